package model

// LastKnownGood is the static fallback table used when neither the reference
// store nor the venue search can resolve a name. Commodity tokens roll with
// each contract month, so these are refreshed by sync-contracts in practice.
var LastKnownGood = []Contract{
	{Exchange: "NSE", Token: "26000", Symbol: "NIFTY", TradingSymbol: "NIFTY 50", Name: "NIFTY", InstrumentType: InstrumentTypeIndex, LotSize: 75},
	{Exchange: "NSE", Token: "26009", Symbol: "BANKNIFTY", TradingSymbol: "NIFTY BANK", Name: "BANKNIFTY", InstrumentType: InstrumentTypeIndex, LotSize: 35},
	{Exchange: "BSE", Token: "30", Symbol: "SENSEX", TradingSymbol: "SENSEX", Name: "SENSEX", InstrumentType: InstrumentTypeIndex, LotSize: 20},
	{Exchange: "MCX", Token: "454819", Symbol: "GOLD", TradingSymbol: "GOLD", Name: "GOLD", InstrumentType: InstrumentTypeFutureCommodity, LotSize: 1},
	{Exchange: "MCX", Token: "451667", Symbol: "SILVER", TradingSymbol: "SILVER", Name: "SILVER", InstrumentType: InstrumentTypeFutureCommodity, LotSize: 1},
	{Exchange: "MCX", Token: "488292", Symbol: "CRUDEOIL", TradingSymbol: "CRUDEOIL", Name: "CRUDEOIL", InstrumentType: InstrumentTypeFutureCommodity, LotSize: 100},
	{Exchange: "MCX", Token: "488509", Symbol: "NATGASMINI", TradingSymbol: "NATGASMINI", Name: "NATGASMINI", InstrumentType: InstrumentTypeFutureCommodity, LotSize: 250},
}

// LookupLastKnownGood returns the static row for a logical name.
func LookupLastKnownGood(name string) (Contract, bool) {
	for _, c := range LastKnownGood {
		if c.Name == name {
			return c, true
		}
	}
	return Contract{}, false
}
