package model

// Store is a static catalog entry shown during onboarding.
type Store struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Distance string `json:"distance"`
	Type     string `json:"type"`
	Icon     string `json:"icon"`
	ImageURL string `json:"imageUrl"`
}
