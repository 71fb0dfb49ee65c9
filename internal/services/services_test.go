package services

import (
	"testing"

	"feedbot/internal/gateway/gatewaytest"
	"feedbot/internal/testutil"
	"feedbot/internal/util"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db        *gorm.DB
	gw        *gatewaytest.Recorder
	directory *DirectoryService
	registry  *RegistryService
	survey    *SurveyService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	gw := gatewaytest.NewRecorder()
	locks := util.NewKeyLock()
	logger := zap.NewNop()

	return &fixture{
		db:        db,
		gw:        gw,
		directory: NewDirectoryService(db, locks, logger),
		registry:  NewRegistryService(db, gw, locks, t.TempDir(), logger),
		survey:    NewSurveyService(db, gw, locks, t.TempDir(), logger),
	}
}
