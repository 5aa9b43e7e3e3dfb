package models

// Station is one entry from the station directory: an internet radio
// stream the speakers can be pointed at.
type Station struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	Bitrate     string `json:"bitrate,omitempty"`
	Format      string `json:"format,omitempty"`
	Reliability string `json:"reliability,omitempty"`
}
