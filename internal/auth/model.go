package auth

import "time"

// Via names the mechanism that authenticated a request.
type Via string

const (
	ViaWhitelist Via = "whitelist"
	ViaSession   Via = "session"
	ViaToken     Via = "token"
	ViaBasic     Via = "basic"
	ViaDefault   Via = "default"
)

type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type AccessRights struct {
	Read   bool `json:"read"`
	List   bool `json:"list"`
	Write  bool `json:"write"`
	Create bool `json:"create"`
	Delete bool `json:"delete"`
}

type Permissions struct {
	Object AccessRights `json:"object"`
	State  AccessRights `json:"state"`
	File   AccessRights `json:"file"`
}

type WhitelistEntry struct {
	Pattern     string
	User        string
	Permissions Permissions
}

// Bypass reports whether a matched entry authenticates the caller outright.
func (e WhitelistEntry) Bypass() bool {
	return e.User != "" && e.User != WhitelistAuthUser
}

type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Token is one half of a TokenPair as seen from a lookup. Paired holds the
// value of the other half.
type Token struct {
	Value           string
	Kind            TokenKind
	ExpiresAt       time.Time
	Principal       string
	ClientID        string
	Paired          string
	PairedExpiresAt time.Time
}

// TokenPair is the record stored under both a:<access> and r:<refresh>.
type TokenPair struct {
	AccessToken           string    `json:"accessToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshToken          string    `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
	Principal             string    `json:"user"`
	ClientID              string    `json:"client"`
	StayLoggedIn          bool      `json:"stayLoggedIn,omitempty"`
}

func (p TokenPair) access() Token {
	return Token{
		Value:           p.AccessToken,
		Kind:            KindAccess,
		ExpiresAt:       p.AccessTokenExpiresAt,
		Principal:       p.Principal,
		ClientID:        p.ClientID,
		Paired:          p.RefreshToken,
		PairedExpiresAt: p.RefreshTokenExpiresAt,
	}
}

func (p TokenPair) refresh() Token {
	return Token{
		Value:           p.RefreshToken,
		Kind:            KindRefresh,
		ExpiresAt:       p.RefreshTokenExpiresAt,
		Principal:       p.Principal,
		ClientID:        p.ClientID,
		Paired:          p.AccessToken,
		PairedExpiresAt: p.AccessTokenExpiresAt,
	}
}

type tokenResponse struct {
	AccessToken           string `json:"access_token"`
	ExpiresIn             int64  `json:"expires_in"`
	RefreshToken          string `json:"refresh_token"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in"`
	TokenType             string `json:"token_type"`
}

type Session struct {
	ID           string    `json:"-"`
	User         string    `json:"user"`
	ExpiresAt    time.Time `json:"expiresAt"`
	StayLoggedIn bool      `json:"stayLoggedIn,omitempty"`
}
