package model

import (
	"time"

	"layeh.com/radius/rfc2866"
)

// NASPortTypeWirelessName is the dictionary name stored in radacct.nasporttype.
const NASPortTypeWirelessName = "Wireless-802.11"

// AcctStatusStart is the status recorded for every granted authentication.
var AcctStatusStart = rfc2866.AcctStatusType_Value_Start.String()

// AccountingRecord is one radacct row, appended per successful gateway authentication.
type AccountingRecord struct {
	Username         string    `json:"username"`
	NASIPAddress     string    `json:"nas_ip_address"`
	NASPortID        string    `json:"nas_port_id"`
	NASPortType      string    `json:"nas_port_type"`
	AcctStatusType   string    `json:"acct_status_type"`
	AcctSessionID    string    `json:"acct_session_id"`
	CallingStationID string    `json:"calling_station_id"`
	FramedIPAddress  string    `json:"framed_ip_address,omitempty"`
	StartTime        time.Time `json:"start_time"`
	SessionTime      int64     `json:"session_time"`
	InputOctets      int64     `json:"input_octets"`
	OutputOctets     int64     `json:"output_octets"`
}
