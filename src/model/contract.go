package model

import "time"

const (
	InstrumentTypeFutureCommodity = "FUTCOM"
	InstrumentTypeFutureIndex     = "FUTIDX"
	InstrumentTypeFutureStock     = "FUTSTK"
	InstrumentTypeIndex           = "INDEX"
	InstrumentTypeEquity          = "EQ"
)

// Contract is one row of the venue contract master kept in the reference DB.
type Contract struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Exchange       string     `gorm:"size:10;not null;uniqueIndex:idx_contract_exchange_token" json:"exchange"`
	Token          string     `gorm:"size:32;not null;uniqueIndex:idx_contract_exchange_token" json:"token"`
	Symbol         string     `gorm:"size:64;index" json:"symbol"`
	TradingSymbol  string     `gorm:"size:128" json:"trading_symbol"`
	Name           string     `gorm:"size:128" json:"name"`
	InstrumentType string     `gorm:"size:16;index" json:"instrument_type"`
	OptionType     string     `gorm:"size:4" json:"option_type"`
	LotSize        int        `json:"lot_size"`
	Expiry         *time.Time `gorm:"index" json:"expiry,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (Contract) TableName() string {
	return "contracts"
}

// IsOption reports whether the row carries an option leg (CE/PE).
func (c Contract) IsOption() bool {
	return c.OptionType == "CE" || c.OptionType == "PE"
}

// ToInstrument binds the contract to a logical name.
func (c Contract) ToInstrument(name string, by ResolutionStrategy, at time.Time) Instrument {
	return Instrument{
		Name:          name,
		Exchange:      c.Exchange,
		Token:         c.Token,
		TradingSymbol: c.TradingSymbol,
		LotSize:       c.LotSize,
		Expiry:        c.Expiry,
		ResolvedBy:    by,
		ResolvedAt:    at,
	}
}
