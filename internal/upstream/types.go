package upstream

type RateLimitStatus struct {
	Limit        int `json:"limit"`
	Remaining    int `json:"remaining"`
	ResetSeconds int `json:"reset_time"`
	CurrentUsage int `json:"current_usage"`
}

type Points struct {
	Total     float64 `json:"total"`
	Inference float64 `json:"inference"`
	Referral  float64 `json:"referral"`
}

type pointsPayload struct {
	Total  float64 `json:"total_points"`
	Points struct {
		Inference float64 `json:"inference"`
		Referral  float64 `json:"referral"`
	} `json:"points"`
}

type Model struct {
	Name    string `json:"name"`
	Display string `json:"display"`
	ID      string `json:"id"`
	IsPro   bool   `json:"is_pro"`
	Active  bool   `json:"active"`
}

type SignInRequest struct {
	SignedMessage string `json:"signedMessage"`
	Message       string `json:"message"`
	ReferralCode  string `json:"referral_code"`
}

type signInResponse struct {
	SessionToken string `json:"session_token"`
}
