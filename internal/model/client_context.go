package model

// Unknown は解決できなかった位置情報フィールドの番兵値。
const Unknown = "unknown"

// ClientContext は本人確認が絡むリクエストに添付するネットワーク・位置情報を表す。
type ClientContext struct {
	IP          string  `json:"ip"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timezone    string  `json:"timezone"`
}

// UnknownClientContext は全フィールドが番兵値のClientContextを返す。
// 位置情報の取得に失敗した場合のフェイルオープン値として使用する。
func UnknownClientContext() ClientContext {
	return ClientContext{
		IP:          Unknown,
		City:        Unknown,
		Region:      Unknown,
		Country:     Unknown,
		CountryCode: Unknown,
		Timezone:    Unknown,
	}
}

// Resolved は国コードが解決済みかを返す。
func (c ClientContext) Resolved() bool {
	return c.CountryCode != "" && c.CountryCode != Unknown
}

// Location は "都市, 国" 形式の所在地文字列を返す。
// 都市が不明な場合は国名のみ、国名も不明な場合は空文字を返す。
func (c ClientContext) Location() string {
	city := known(c.City)
	country := known(c.Country)
	switch {
	case city != "" && country != "":
		return city + ", " + country
	case country != "":
		return country
	default:
		return ""
	}
}

func known(v string) string {
	if v == Unknown {
		return ""
	}
	return v
}
