package model

import "time"

// Defaults applied when the geolocation provider omits a field.
const (
	UnknownValue       = "Unknown"
	UnknownCountryCode = "XX"
)

// VisitorRecord is one enriched inbound connection. The user agent, platform,
// browser and referrer fields are synthetic display values, not observed.
type VisitorRecord struct {
	IP          string    `json:"ip" yaml:"ip"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
	Country     string    `json:"country" yaml:"country"`
	CountryCode string    `json:"countryCode" yaml:"countryCode"`
	Region      string    `json:"region" yaml:"region"`
	City        string    `json:"city" yaml:"city"`
	Zip         string    `json:"zip" yaml:"zip"`
	Lat         float64   `json:"lat" yaml:"lat"`
	Lon         float64   `json:"lon" yaml:"lon"`
	Timezone    string    `json:"timezone" yaml:"timezone"`
	ISP         string    `json:"isp" yaml:"isp"`
	AS          string    `json:"as" yaml:"as"`
	UserAgent   string    `json:"userAgent" yaml:"userAgent"`
	Platform    string    `json:"platform" yaml:"platform"`
	Browser     string    `json:"browser" yaml:"browser"`
	Referrer    string    `json:"referrer" yaml:"referrer"`
}

// Fingerprint is a synthetic browser fingerprint derived from an address.
type Fingerprint struct {
	Resolution     string `json:"resolution"`
	ColorDepth     string `json:"colorDepth"`
	Language       string `json:"language"`
	TimezoneOffset string `json:"timezoneOffset"`
	Plugins        string `json:"plugins"`
	Cookies        string `json:"cookies"`
	DNT            string `json:"dnt"`
	CanvasHash     string `json:"canvasHash"`
	WebGLHash      string `json:"webglHash"`
}

// CountryCount is the number of visitors seen from one country.
type CountryCount struct {
	Country string `json:"country"`
	Count   int64  `json:"count"`
}
