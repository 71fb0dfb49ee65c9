package bot

const contactHelp = `
 * help - Show this message
 * ask <question> - Send a question to every registered customer email. Answers to the previous question are sent to you first.
 * get answers - Get the answers collected for your current question
 * add customer <customer>: <emails> - Add customer, or emails to existing customer.
    1. customer name can not contain ':' characters
    2. customer name can contain spaces
    3. emails are split with spaces
 * remove customer <customer>: <emails> - Remove emails from existing customer entry
 * remove customer <customer>: all - Completely remove customer
 * list customers - List all your customers
 * list emails <customer> - List emails for given customer
 * give customer <receiver> <customer> - Give customer to receiver
 * steal customer <from> <customer> - Steal customer from contact person
`

const adminHelp = `
 * add contact <email> - Add contact person
 * remove contact <email> - Remove contact person, along with their customers
 * add admin <email> - Create admin, or give admin privileges to existing contact person
 * remove admin <email> - Remove admin privileges from contact person
`
