package model

// PlanFeature はサブスクリプションプランに含まれる機能。
type PlanFeature struct {
	ID          int    `json:"id"`
	FeatureName string `json:"featureName"`
	IsAvailable bool   `json:"isAvailable"`
	IsHidden    bool   `json:"isHidden"`
}

// SubscriptionPlan はサブスクリプションプランを表す。
type SubscriptionPlan struct {
	ID              int           `json:"id"`
	PlanName        string        `json:"planName"`
	Description     string        `json:"description"`
	PlanDescription string        `json:"planDescription"`
	Price           float64       `json:"price"`
	DiscountedPrice float64       `json:"discountedPrice"`
	CurrencySymbol  string        `json:"currencySymbol"`
	BillingCycle    string        `json:"billingCycle"`
	Duration        string        `json:"duration"`
	ButtonText      string        `json:"buttonText"`
	IsFree          bool          `json:"isFree"`
	IsOpted         bool          `json:"isOpted"`
	IsDisabled      bool          `json:"isDisabled"`
	AppFeatures     []PlanFeature `json:"appFeatures"`
}

// VisibleFeatures は非表示でない機能だけを返す。
func (p SubscriptionPlan) VisibleFeatures() []PlanFeature {
	out := make([]PlanFeature, 0, len(p.AppFeatures))
	for _, f := range p.AppFeatures {
		if !f.IsHidden {
			out = append(out, f)
		}
	}
	return out
}
