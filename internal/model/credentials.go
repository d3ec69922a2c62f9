package model

// CompanyType identifies a scraping backend ("company" in scraper terms).
type CompanyType string

// Known company types. The bridge scraper accepts any value it
// recognizes; only CompanyPlaid is handled natively.
const (
	CompanyHapoalim CompanyType = "hapoalim"
	CompanyLeumi    CompanyType = "leumi"
	CompanyDiscount CompanyType = "discount"
	CompanyIsracard CompanyType = "isracard"
	CompanyMax      CompanyType = "max"
	CompanyCal      CompanyType = "visaCal"
	CompanyPlaid    CompanyType = "plaid"
)

// BankCredentials holds everything needed to scrape one account. The
// payload is decrypted once at load time and is immutable for the
// process lifetime.
type BankCredentials struct {
	Payload  map[string]string // Decrypted login fields, backend-specific
	Company  CompanyType
	Name     string // Display name, doubles as the source account name
	UserID   string
	Accounts []string // Optional sub-account allow-list
}

// AllowsAccount reports whether a scraped sub-account number passes the
// allow-list. An empty list allows everything.
func (c *BankCredentials) AllowsAccount(accountNumber string) bool {
	if len(c.Accounts) == 0 {
		return true
	}
	for _, a := range c.Accounts {
		if a == accountNumber {
			return true
		}
	}
	return false
}
