package cloud

import (
	"time"

	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff"
)

// Session is the authenticated state of a REST client.
type Session struct {
	AccessToken  string
	RefreshToken string
	APIKey       string
	Region       sonoff.Region
	AcquiredAt   time.Time
}

// User is the account that logged in.
type User struct {
	APIKey      string `json:"apikey"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
	Nickname    string `json:"nickname,omitempty"`
}

type loginData struct {
	AccessToken  string `json:"at"`
	RefreshToken string `json:"rt"`
	Region       string `json:"region"`
	User         User   `json:"user"`
}

type refreshData struct {
	AccessToken  string `json:"at"`
	RefreshToken string `json:"rt"`
}

// Family lists the homes of the account.
type Family struct {
	CurrentFamilyID string `json:"currentFamilyId"`
	Homes           []Home `json:"familyList"`
}

// Current returns the current home, or the first one when the current id
// is not in the list.
func (f *Family) Current() (Home, bool) {
	for _, h := range f.Homes {
		if h.ID == f.CurrentFamilyID {
			return h, true
		}
	}
	if len(f.Homes) > 0 {
		return f.Homes[0], true
	}
	return Home{}, false
}

// Home is one family of the account.
type Home struct {
	ID     string `json:"id"`
	APIKey string `json:"apikey"`
	Name   string `json:"name"`
	Index  int    `json:"index"`
	Rooms  []Room `json:"roomList"`
}

// Room is a room inside a home.
type Room struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Index int    `json:"index"`
}

// Device is a device thing.
type Device struct {
	Name         string         `json:"name"`
	DeviceID     string         `json:"deviceid"`
	APIKey       string         `json:"apikey"`
	Extra        DeviceExtra    `json:"extra"`
	BrandName    string         `json:"brandName"`
	BrandLogo    string         `json:"brandLogo"`
	ShowBrand    bool           `json:"showBrand"`
	ProductModel string         `json:"productModel"`
	DeviceKey    string         `json:"devicekey"`
	Online       bool           `json:"online"`
	Params       map[string]any `json:"params"`
	DenyFeatures []string       `json:"denyFeatures"`
}

// DeviceExtra describes the hardware of a device.
type DeviceExtra struct {
	Model        string `json:"model"`
	UI           string `json:"ui"`
	UIID         int    `json:"uiid"`
	Description  string `json:"description"`
	Manufacturer string `json:"manufacturer"`
	MAC          string `json:"mac"`
	APMAC        string `json:"apmac"`
	ModelInfo    string `json:"modelInfo"`
	BrandID      string `json:"brandId"`
	ChipID       string `json:"chipid"`
}

// Group is a group thing.
type Group struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	MainDeviceID string         `json:"mainDeviceId"`
	UIID         int            `json:"uiid"`
	Params       map[string]any `json:"params"`
}

// Things is the content of a home.
type Things struct {
	Devices []Device
	Groups  []Group
}

// ThirdPartyDevice is a partner device added to the account.
type ThirdPartyDevice struct {
	Name      string `json:"name"`
	DeviceID  string `json:"deviceid"`
	APIKey    string `json:"apikey"`
	DeviceKey string `json:"devicekey"`
}

// DeviceState is the reported params of a device.
type DeviceState struct {
	DeviceID string
	Params   map[string]any
}
