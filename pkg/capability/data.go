package capability

// Channel type values reported by ChannelInfo.ChannelType.
const (
	ChannelTypeSCQAM = "SC-QAM"
	ChannelTypeOFDM  = "OFDM"
	ChannelTypeATDMA = "ATDMA"
	ChannelTypeOFDMA = "OFDMA"
)

// ChannelInfo is one bonded channel, downstream or upstream. Counter
// fields only apply downstream, SymbolRate only upstream; the rest are
// shared.
type ChannelInfo struct {
	ChannelID   int     `json:"channel_id"`
	Frequency   int     `json:"frequency"` // Hz
	Power       float64 `json:"power"`     // dBmV
	SNR         float64 `json:"snr"`       // dB; RxMER for OFDM channels
	Modulation  string  `json:"modulation"`
	ChannelType string  `json:"channel_type"`
	Locked      bool    `json:"locked"`

	Corrected   int64 `json:"corrected,omitempty"`
	Uncorrected int64 `json:"uncorrected,omitempty"`

	SymbolRate int `json:"symbol_rate,omitempty"` // kSym/s
}

// ModemData is the decoded diagnostic snapshot of one device.
type ModemData struct {
	Downstream []ChannelInfo     `json:"downstream"`
	Upstream   []ChannelInfo     `json:"upstream"`
	SystemInfo map[string]string `json:"system_info"`
}

// NewModemData returns an empty snapshot with SystemInfo allocated.
func NewModemData() *ModemData {
	return &ModemData{SystemInfo: make(map[string]string)}
}

// HasChannels reports whether either channel list is populated.
func (d *ModemData) HasChannels() bool {
	return len(d.Downstream) > 0 || len(d.Upstream) > 0
}

// Empty reports whether the snapshot carries no signal at all.
func (d *ModemData) Empty() bool {
	return !d.HasChannels() && len(d.SystemInfo) == 0
}

// TotalCorrected sums the corrected codeword counters across
// downstream channels.
func (d *ModemData) TotalCorrected() int64 {
	var total int64
	for _, ch := range d.Downstream {
		total += ch.Corrected
	}
	return total
}

// TotalUncorrected sums the uncorrectable codeword counters across
// downstream channels.
func (d *ModemData) TotalUncorrected() int64 {
	var total int64
	for _, ch := range d.Downstream {
		total += ch.Uncorrected
	}
	return total
}
