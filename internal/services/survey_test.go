package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"feedbot/internal/gateway"
	"feedbot/internal/testutil"
	apperrors "feedbot/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSurvey_AcmeScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateTestContact(t, f.db, "c@x.com", false)

	_, err := f.registry.AddEmails(ctx, "c@x.com", "Acme", []string{"a@x.com", "b@x.com"})
	require.NoError(t, err)

	result, err := f.survey.Ask(ctx, "c@x.com", "How are we doing?")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, result.Delivered)
	assert.Empty(t, result.Failed)
	assert.Zero(t, result.PreviousRespondents)

	recorded, err := f.survey.RecordAnswer(ctx, "a@x.com", "Great")
	require.NoError(t, err)
	assert.True(t, recorded)

	n, err := f.survey.FetchAnswers(ctx, "c@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	last := f.gw.Last("c@x.com")
	require.NotNil(t, last)
	assert.Equal(t, "Answers to: How are we doing? (1 respondents)", last.Text)
	assert.Equal(t, "# How are we doing?\n\n## Acme\n\n### a@x.com\n\n1. Great\n", last.Attachment)
	assert.NoFileExists(t, last.FilePath, "answers document is removed after sending")
}

func TestSurvey_AskDeliversPreviousAnswersFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateTestContact(t, f.db, "c@x.com", false)
	testutil.SetTestQuestion(t, f.db, "c@x.com", "Q1")
	testutil.CreateTestEntry(t, f.db, "c@x.com", "Acme", "a@x.com", "first")
	testutil.CreateTestEntry(t, f.db, "c@x.com", "Acme", "b@x.com")

	result, err := f.survey.Ask(ctx, "c@x.com", "Q2")
	require.NoError(t, err)
	assert.Equal(t, 1, result.PreviousRespondents)

	toOwner := f.gw.To("c@x.com")
	require.Len(t, toOwner, 1)
	assert.Contains(t, toOwner[0].Attachment, "# Q1\n")
	assert.Contains(t, toOwner[0].Attachment, "1. first\n")

	assert.Empty(t, testutil.GetTestEntry(t, f.db, "a@x.com").Answers, "answers cleared for the new question")

	q, err := f.survey.CurrentQuestion(ctx, "c@x.com")
	require.NoError(t, err)
	assert.Equal(t, "Q2", q)
}

func TestSurvey_AskTwiceDiscardsAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateTestContact(t, f.db, "c@x.com", false)
	testutil.CreateTestEntry(t, f.db, "c@x.com", "Acme", "a@x.com")

	_, err := f.survey.Ask(ctx, "c@x.com", "Q1")
	require.NoError(t, err)
	_, err = f.survey.RecordAnswer(ctx, "a@x.com", "old answer")
	require.NoError(t, err)
	_, err = f.survey.Ask(ctx, "c@x.com", "Q2")
	require.NoError(t, err)

	f.gw.Reset()
	n, err := f.survey.FetchAnswers(ctx, "c@x.com")
	require.NoError(t, err)
	assert.Zero(t, n)

	last := f.gw.Last("c@x.com")
	require.NotNil(t, last)
	assert.Equal(t, "# Q2\n", last.Attachment)
}

func TestSurvey_AskAbortsWhenAnswersUndeliverable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateTestContact(t, f.db, "c@x.com", false)
	testutil.SetTestQuestion(t, f.db, "c@x.com", "Q1")
	testutil.CreateTestEntry(t, f.db, "c@x.com", "Acme", "a@x.com", "keep me")
	f.gw.FailFor("c@x.com", errors.New("provider down"))

	_, err := f.survey.Ask(ctx, "c@x.com", "Q2")
	assert.True(t, apperrors.IsGatewayFailure(err))

	q, err := f.survey.CurrentQuestion(ctx, "c@x.com")
	require.NoError(t, err)
	assert.Equal(t, "Q1", q)
	assert.Equal(t, []string{"keep me"}, []string(testutil.GetTestEntry(t, f.db, "a@x.com").Answers))
	assert.Empty(t, f.gw.To("a@x.com"), "new question not broadcast")
}

func TestSurvey_AskPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateTestContact(t, f.db, "c@x.com", false)
	testutil.CreateTestEntry(t, f.db, "c@x.com", "Acme", "a@x.com")
	testutil.CreateTestEntry(t, f.db, "c@x.com", "Acme", "gone@x.com")
	testutil.CreateTestEntry(t, f.db, "c@x.com", "Beta", "z@x.com")
	f.gw.FailFor("gone@x.com", fmt.Errorf("webex: %w", gateway.ErrUnreachable))

	result, err := f.survey.Ask(ctx, "c@x.com", "Q")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com", "z@x.com"}, result.Delivered)
	assert.Equal(t, []DeliveryFailure{{Email: "gone@x.com", Reason: "recipient unreachable"}}, result.Failed)

	q, err := f.survey.CurrentQuestion(ctx, "c@x.com")
	require.NoError(t, err)
	assert.Equal(t, "Q", q)
}

func TestSurvey_AskValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.survey.Ask(ctx, "c@x.com", "   ")
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, "Wrong format. Expected ask <question>", apperrors.MessageOf(err))

	_, err = f.survey.Ask(ctx, "ghost@x.com", "Q")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSurvey_RecordAnswerIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateTestContact(t, f.db, "c@x.com", false)
	testutil.CreateTestEntry(t, f.db, "c@x.com", "Acme", "a@x.com")

	recorded, err := f.survey.RecordAnswer(ctx, "stranger@x.com", "hi")
	require.NoError(t, err)
	assert.False(t, recorded)

	recorded, err = f.survey.RecordAnswer(ctx, "a@x.com", "no question yet")
	require.NoError(t, err)
	assert.False(t, recorded)
	assert.Empty(t, testutil.GetTestEntry(t, f.db, "a@x.com").Answers)
}

func TestSurvey_ConcurrentAnswersAllKept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateTestContact(t, f.db, "c@x.com", false)
	testutil.SetTestQuestion(t, f.db, "c@x.com", "Q")
	testutil.CreateTestEntry(t, f.db, "c@x.com", "Acme", "a@x.com")

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.survey.RecordAnswer(ctx, "A@x.com", fmt.Sprintf("answer %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, testutil.GetTestEntry(t, f.db, "a@x.com").Answers, n)
}

func TestSurvey_FetchAnswersWithoutQuestion(t *testing.T) {
	f := newFixture(t)
	testutil.CreateTestContact(t, f.db, "c@x.com", false)

	_, err := f.survey.FetchAnswers(context.Background(), "c@x.com")
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, "You have no active question", apperrors.MessageOf(err))
}

func TestSurvey_AnswersFollowTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateTestContact(t, f.db, "a@x.com", false)
	testutil.CreateTestContact(t, f.db, "b@x.com", false)
	testutil.SetTestQuestion(t, f.db, "b@x.com", "B's question")
	testutil.CreateTestEntry(t, f.db, "a@x.com", "Acme", "cust@acme.com")

	_, err := f.registry.TransferCustomer(ctx, "a@x.com", "b@x.com", "Acme")
	require.NoError(t, err)

	recorded, err := f.survey.RecordAnswer(ctx, "cust@acme.com", "for b")
	require.NoError(t, err)
	assert.True(t, recorded, "answer goes to the new owner's question")

	n, err := f.survey.FetchAnswers(ctx, "b@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
