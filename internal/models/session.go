package models

// SessionRecord is the cached social-network session.
type SessionRecord struct {
	RefreshJWT  string `json:"refreshJwt"`
	AccessJWT   string `json:"accessJwt,omitempty"`
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// User is the signed-in profile shown to the UI.
type User struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

func (r SessionRecord) User() User {
	return User{
		DID:         r.DID,
		Handle:      r.Handle,
		Email:       r.Email,
		DisplayName: r.DisplayName,
	}
}
