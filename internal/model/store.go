package model

// StoreStatus represents store status
type StoreStatus string

const (
	StoreStatusActive   StoreStatus = "active"
	StoreStatusInactive StoreStatus = "inactive"
)

// Store represents a merchant store on the platform
type Store struct {
	BaseModel
	Name         string      `gorm:"type:varchar(128);not null" json:"name"`
	Email        string      `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string      `gorm:"type:varchar(255);not null" json:"-"`
	Status       StoreStatus `gorm:"type:varchar(16);default:'active'" json:"status"`
}

// TableName specifies the table name for Store model
func (Store) TableName() string {
	return "stores"
}
