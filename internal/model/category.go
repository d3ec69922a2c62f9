package model

// Entity is the accounting owner of a transaction: the household, one of
// the two tracked businesses, or a shared business.
type Entity string

// Entity constants.
const (
	EntityHousehold Entity = "household"
	EntityBusinessA Entity = "business_a"
	EntityBusinessB Entity = "business_b"
	EntityShared    Entity = "shared"
)

// CategoryType indicates whether a category applies to income or expenses.
type CategoryType string

const (
	// CategoryTypeIncome represents categories for income transactions.
	CategoryTypeIncome CategoryType = "income"
	// CategoryTypeExpense represents categories for expense transactions.
	CategoryTypeExpense CategoryType = "expense"
)

// Category represents an accounting category. The catalog is maintained
// externally; this core only reads it.
type Category struct {
	ID       string
	Name     string
	Type     CategoryType
	Entity   Entity // Empty when the category applies to every entity
	IsActive bool
}
