package capability

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Jeffail/gabs/v2"
)

var (
	numberRegex     = regexp.MustCompile(`-?[0-9]+(?:\.[0-9]+)?`)
	modulationRegex = regexp.MustCompile("[0-9]+")
)

// parseNumber extracts the first numeric token from a cell like
// "507000000 Hz" or " 1.1 dBmV".
func parseNumber(s string) (float64, bool) {
	token := numberRegex.FindString(s)
	if token == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseIntValue(s string) int64 {
	n, ok := parseNumber(s)
	if !ok {
		return 0
	}
	return int64(n)
}

// parseFrequencyHz normalizes a frequency cell to Hz. Firmware writes
// "507000000 Hz", "507.0 MHz", or a bare number; bare values below
// 100 kHz can only be MHz.
func parseFrequencyHz(s string) int {
	n, ok := parseNumber(s)
	if !ok {
		return 0
	}
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "mhz"):
		return int(n * 1e6)
	case strings.Contains(lower, "khz"):
		return int(n * 1e3)
	case n < 1e5:
		return int(n * 1e6)
	default:
		return int(n)
	}
}

func parseLocked(s string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "locked")
}

// channelTypeFor derives the channel type from a modulation string when
// the table has no explicit type column.
func channelTypeFor(modulation, fallback string) string {
	lower := strings.ToLower(modulation)
	switch {
	case strings.Contains(lower, "ofdma"):
		return ChannelTypeOFDMA
	case strings.Contains(lower, "ofdm"):
		return ChannelTypeOFDM
	case strings.Contains(lower, "atdma"):
		return ChannelTypeATDMA
	default:
		return fallback
	}
}

func normalizeChannelType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sc_qam", "sc-qam", "scqam":
		return ChannelTypeSCQAM
	case "ofdm":
		return ChannelTypeOFDM
	case "atdma":
		return ChannelTypeATDMA
	case "ofdma":
		return ChannelTypeOFDMA
	default:
		return strings.ToUpper(strings.TrimSpace(raw))
	}
}

func sortedResourceNames(resources map[string][]byte) []string {
	names := make([]string, 0, len(resources))
	for name := range resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// htmlStatusParser scrapes DOCSIS status tables out of HTML pages. Two
// layouts exist in the wild: one row per channel under a header row,
// and the transposed form where each row is one field and each column
// one channel. Both are detected per table.
type htmlStatusParser struct{}

var (
	tableRegex     = regexp.MustCompile(`(?is)<table[^>]*>(.*?)</table>`)
	tableRowRegex  = regexp.MustCompile(`(?is)<tr[^>]*>(.*?)</tr>`)
	tableCellRegex = regexp.MustCompile(`(?is)<t[dh][^>]*>(.*?)</t[dh]>`)
	htmlTagRegex   = regexp.MustCompile(`(?s)<[^>]*>`)
)

func (htmlStatusParser) ParseResources(resources map[string][]byte) (*ModemData, error) {
	data := NewModemData()
	for _, name := range sortedResourceNames(resources) {
		parseStatusPage(data, resources[name])
	}
	if !data.HasChannels() {
		return nil, fmt.Errorf("no channel tables recognized in %d resource(s)", len(resources))
	}
	return data, nil
}

// direction markers inside table titles and header rows.
const (
	directionDown = "downstream"
	directionUp   = "upstream"
)

func parseStatusPage(data *ModemData, body []byte) {
	for _, table := range tableRegex.FindAllStringSubmatch(string(body), -1) {
		rows := tableRows(table[1])
		if len(rows) < 2 {
			continue
		}
		direction, rows := tableDirection(rows)
		channels := channelsFromRows(rows, &direction)
		if direction == "" {
			continue
		}
		for i := range channels {
			if channels[i].ChannelType == "" {
				fallback := ChannelTypeSCQAM
				if direction == directionUp {
					fallback = ChannelTypeATDMA
				}
				channels[i].ChannelType = channelTypeFor(channels[i].Modulation, fallback)
			}
		}
		if direction == directionUp {
			data.Upstream = append(data.Upstream, channels...)
		} else {
			data.Downstream = append(data.Downstream, channels...)
		}
	}
}

func tableRows(tableHTML string) [][]string {
	var rows [][]string
	for _, tr := range tableRowRegex.FindAllStringSubmatch(tableHTML, -1) {
		var cells []string
		for _, td := range tableCellRegex.FindAllStringSubmatch(tr[1], -1) {
			cells = append(cells, cleanCell(td[1]))
		}
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	}
	return rows
}

func cleanCell(raw string) string {
	text := htmlTagRegex.ReplaceAllString(raw, " ")
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, " ", " ")
	return strings.Join(strings.Fields(text), " ")
}

// tableDirection consumes leading single-cell title rows like
// "Downstream Bonded Channels" and returns the direction they name.
func tableDirection(rows [][]string) (string, [][]string) {
	direction := ""
	for len(rows) > 0 && len(rows[0]) == 1 {
		title := strings.ToLower(rows[0][0])
		if strings.Contains(title, directionDown) {
			direction = directionDown
		} else if strings.Contains(title, directionUp) {
			direction = directionUp
		}
		rows = rows[1:]
	}
	return direction, rows
}

// headerKey maps a header or row-label cell to a channel field. Order
// matters: "uncorrectables" contains "correct", "channel id" contains
// "channel".
func headerKey(cell string) string {
	l := strings.ToLower(cell)
	switch {
	case strings.Contains(l, "uncorrect"):
		return "uncorrected"
	case strings.Contains(l, "correct"):
		return "corrected"
	case strings.Contains(l, "channel id"):
		return "id"
	case strings.Contains(l, "channel type"):
		return "type"
	case strings.Contains(l, "lock"):
		return "locked"
	case strings.Contains(l, "frequency"):
		return "frequency"
	case strings.Contains(l, "symbol rate"):
		return "symbolrate"
	case strings.Contains(l, "power"):
		return "power"
	case strings.Contains(l, "snr"), strings.Contains(l, "signal to noise"), strings.Contains(l, "mer"):
		return "snr"
	case strings.Contains(l, "modulation"):
		return "modulation"
	case l == "channel", strings.HasPrefix(l, "channel "):
		return "id"
	default:
		return ""
	}
}

func channelsFromRows(rows [][]string, direction *string) []ChannelInfo {
	if len(rows) == 0 {
		return nil
	}

	// Row-per-channel: the first remaining row is a header naming at
	// least three known columns.
	header := make([]string, len(rows[0]))
	known := 0
	for i, cell := range rows[0] {
		header[i] = headerKey(cell)
		if header[i] != "" {
			known++
		}
	}
	if known >= 3 {
		refineDirection(direction, header)
		var channels []ChannelInfo
		for _, row := range rows[1:] {
			var ch ChannelInfo
			for i, cell := range row {
				if i < len(header) {
					setChannelField(&ch, header[i], cell)
				}
			}
			if ch.ChannelID != 0 || ch.Frequency != 0 {
				channels = append(channels, ch)
			}
		}
		return channels
	}

	// Transposed: each row is one field, each later cell one channel.
	fields := make(map[string][]string)
	labelled := 0
	width := 0
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		key := headerKey(row[0])
		if key == "" {
			continue
		}
		labelled++
		fields[key] = row[1:]
		if len(row)-1 > width {
			width = len(row) - 1
		}
	}
	if labelled < 2 {
		return nil
	}
	refineDirection(direction, keysOf(fields))

	var channels []ChannelInfo
	for i := 0; i < width; i++ {
		var ch ChannelInfo
		for key, values := range fields {
			if i < len(values) {
				setChannelField(&ch, key, values[i])
			}
		}
		if ch.ChannelID != 0 || ch.Frequency != 0 {
			channels = append(channels, ch)
		}
	}
	return channels
}

// refineDirection infers a direction from field names when no table
// title named one. Corrected counters and SNR only appear downstream;
// symbol rate only upstream.
func refineDirection(direction *string, keys []string) {
	if *direction != "" {
		return
	}
	for _, key := range keys {
		switch key {
		case "corrected", "uncorrected", "snr":
			*direction = directionDown
			return
		case "symbolrate", "type":
			*direction = directionUp
			return
		}
	}
}

func keysOf(fields map[string][]string) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func setChannelField(ch *ChannelInfo, key, value string) {
	switch key {
	case "id":
		ch.ChannelID = int(parseIntValue(value))
	case "locked":
		ch.Locked = parseLocked(value)
	case "modulation":
		ch.Modulation = strings.TrimSpace(value)
	case "type":
		ch.ChannelType = normalizeChannelType(value)
	case "frequency":
		ch.Frequency = parseFrequencyHz(value)
	case "power":
		if n, ok := parseNumber(value); ok {
			ch.Power = n
		}
	case "snr":
		if n, ok := parseNumber(value); ok {
			ch.SNR = n
		}
	case "corrected":
		ch.Corrected = parseIntValue(value)
	case "uncorrected":
		ch.Uncorrected = parseIntValue(value)
	case "symbolrate":
		ch.SymbolRate = int(parseIntValue(value))
	}
}

// restChannelParser decodes the merged JSON document REST firmware
// serves under /rest/v1/cablemodem. OFDM channels report RxMER instead
// of SNR and unscaled power.
type restChannelParser struct{}

type restDownstreamChannel struct {
	ID          int     `json:"channelId"`
	Frequency   int     `json:"frequency"`
	Power       float64 `json:"power"`
	Modulation  string  `json:"modulation"`
	SNR         float64 `json:"snr"`
	Corrected   int64   `json:"correctedErrors"`
	Uncorrected int64   `json:"uncorrectedErrors"`
	ChannelType string  `json:"channelType"`
	RxMer       float64 `json:"rxMer"`
	LockStatus  bool    `json:"lockStatus"`
}

type restUpstreamChannel struct {
	ID          int     `json:"channelId"`
	Frequency   int     `json:"frequency"`
	Power       float64 `json:"power"`
	Modulation  string  `json:"modulation"`
	ChannelType string  `json:"channelType"`
	LockStatus  bool    `json:"lockStatus"`
	SymbolRate  int     `json:"symbolRate"`
}

type restDocument struct {
	Downstream struct {
		Channels []restDownstreamChannel `json:"channels"`
	} `json:"downstream"`
	Upstream struct {
		Channels []restUpstreamChannel `json:"channels"`
	} `json:"upstream"`
}

func (restChannelParser) ParseResources(resources map[string][]byte) (*ModemData, error) {
	data := NewModemData()
	for _, name := range sortedResourceNames(resources) {
		body := resources[name]

		var doc restDocument
		if err := json.Unmarshal(body, &doc); err != nil {
			continue
		}
		for _, ch := range doc.Downstream.Channels {
			data.Downstream = append(data.Downstream, restDownstream(ch))
		}
		for _, ch := range doc.Upstream.Channels {
			data.Upstream = append(data.Upstream, restUpstream(ch))
		}

		collectRestSystemInfo(data, body)
	}
	if data.Empty() {
		return nil, fmt.Errorf("no cablemodem document recognized in %d resource(s)", len(resources))
	}
	return data, nil
}

func restDownstream(ch restDownstreamChannel) ChannelInfo {
	out := ChannelInfo{
		ChannelID:   ch.ID,
		Frequency:   ch.Frequency,
		Power:       ch.Power,
		SNR:         ch.SNR,
		ChannelType: normalizeChannelType(ch.ChannelType),
		Locked:      ch.LockStatus,
		Corrected:   ch.Corrected,
		Uncorrected: ch.Uncorrected,
	}
	if size := modulationRegex.FindString(ch.Modulation); size != "" {
		out.Modulation = "QAM" + size
	} else {
		out.Modulation = ch.Modulation
	}
	if out.ChannelType == ChannelTypeOFDM {
		out.SNR = ch.RxMer
	}
	return out
}

func restUpstream(ch restUpstreamChannel) ChannelInfo {
	out := ChannelInfo{
		ChannelID:   ch.ID,
		Frequency:   ch.Frequency,
		Power:       ch.Power,
		Modulation:  ch.Modulation,
		ChannelType: normalizeChannelType(ch.ChannelType),
		Locked:      ch.LockStatus,
		SymbolRate:  ch.SymbolRate,
	}
	return out
}

// collectRestSystemInfo pulls state fields out of the merged document.
// Field placement varies across firmware revisions, so a few paths are
// tried per field.
func collectRestSystemInfo(data *ModemData, body []byte) {
	doc, err := gabs.ParseJSON(body)
	if err != nil {
		return
	}
	fields := []struct {
		key   string
		paths []string
	}{
		{"firmware_version", []string{"state.firmwareVersion", "firmwareVersion", "state.swVersion"}},
		{"uptime", []string{"state.upTime", "state.uptime", "upTime"}},
		{"status", []string{"state.status", "status"}},
		{"serial_number", []string{"state.serialNumber", "serialNumber"}},
	}
	for _, f := range fields {
		if _, seen := data.SystemInfo[f.key]; seen {
			continue
		}
		for _, path := range f.paths {
			if v, ok := doc.Path(path).Data().(string); ok && v != "" {
				data.SystemInfo[f.key] = v
				break
			}
		}
	}
}

// hnapChannelParser decodes the GetMotoStatus batch. Channel tables
// arrive as single strings: records joined by "|+|", fields by "^".
type hnapChannelParser struct{}

const (
	hnapRecordSep = "|+|"
	hnapFieldSep  = "^"
)

func (hnapChannelParser) ParseResources(resources map[string][]byte) (*ModemData, error) {
	data := NewModemData()
	for _, name := range sortedResourceNames(resources) {
		doc, err := gabs.ParseJSON(resources[name])
		if err != nil {
			continue
		}
		if v, ok := doc.Path("MotoConnDownstreamChannel").Data().(string); ok {
			data.Downstream = append(data.Downstream, hnapDownstreamChannels(v)...)
		}
		if v, ok := doc.Path("MotoConnUpstreamChannel").Data().(string); ok {
			data.Upstream = append(data.Upstream, hnapUpstreamChannels(v)...)
		}
		collectHNAPSystemInfo(data, doc)
	}
	if data.Empty() {
		return nil, fmt.Errorf("no recognizable fields in %d HNAP response(s)", len(resources))
	}
	return data, nil
}

// Downstream record fields: index, lock, modulation, channel id,
// frequency (MHz), power, SNR, corrected, uncorrected.
func hnapDownstreamChannels(raw string) []ChannelInfo {
	var channels []ChannelInfo
	for _, record := range splitHNAPRecords(raw) {
		fields := splitHNAPFields(record)
		if len(fields) < 9 {
			continue
		}
		ch := ChannelInfo{
			Locked:      parseLocked(fields[1]),
			Modulation:  fields[2],
			ChannelID:   int(parseIntValue(fields[3])),
			Frequency:   mhzToHz(fields[4]),
			Corrected:   parseIntValue(fields[7]),
			Uncorrected: parseIntValue(fields[8]),
		}
		if n, ok := parseNumber(fields[5]); ok {
			ch.Power = n
		}
		if n, ok := parseNumber(fields[6]); ok {
			ch.SNR = n
		}
		ch.ChannelType = channelTypeFor(ch.Modulation, ChannelTypeSCQAM)
		channels = append(channels, ch)
	}
	return channels
}

// Upstream record fields: index, lock, channel type, channel id,
// symbol rate (kSym/s), frequency (MHz), power.
func hnapUpstreamChannels(raw string) []ChannelInfo {
	var channels []ChannelInfo
	for _, record := range splitHNAPRecords(raw) {
		fields := splitHNAPFields(record)
		if len(fields) < 7 {
			continue
		}
		ch := ChannelInfo{
			Locked:      parseLocked(fields[1]),
			ChannelType: normalizeChannelType(fields[2]),
			ChannelID:   int(parseIntValue(fields[3])),
			SymbolRate:  int(parseIntValue(fields[4])),
			Frequency:   mhzToHz(fields[5]),
		}
		if n, ok := parseNumber(fields[6]); ok {
			ch.Power = n
		}
		channels = append(channels, ch)
	}
	return channels
}

func splitHNAPRecords(raw string) []string {
	var records []string
	for _, record := range strings.Split(raw, hnapRecordSep) {
		if strings.TrimSpace(record) != "" {
			records = append(records, record)
		}
	}
	return records
}

func splitHNAPFields(record string) []string {
	fields := strings.Split(record, hnapFieldSep)
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

func mhzToHz(s string) int {
	n, ok := parseNumber(s)
	if !ok {
		return 0
	}
	return int(n*1e6 + 0.5)
}

var hnapSystemInfoFields = map[string]string{
	"StatusSoftwareSfVer":     "software_version",
	"StatusSoftwareHdVer":     "hardware_version",
	"StatusSoftwareSerialNum": "serial_number",
	"StatusSoftwareMac":       "mac_address",
	"MotoConnSystemUpTime":    "uptime",
	"MotoConnNetworkAccess":   "network_access",
}

func collectHNAPSystemInfo(data *ModemData, doc *gabs.Container) {
	for field, key := range hnapSystemInfoFields {
		if v, ok := doc.Path(field).Data().(string); ok && v != "" {
			data.SystemInfo[key] = v
		}
	}
}

// fallbackParser is the decoder behind the fallback capability. It
// extracts whatever identity hints the pages offer and never errors:
// an unidentified device still yields a (possibly empty) snapshot.
type fallbackParser struct{}

var (
	pageTitleRegex = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	modelHintRegex = regexp.MustCompile(`(?i)\b(?:SB|CM|MB|CGM|TG|CODA)[- ]?[0-9]{3,4}\b`)
)

func (fallbackParser) ParseResources(resources map[string][]byte) (*ModemData, error) {
	data := NewModemData()
	for _, name := range sortedResourceNames(resources) {
		body := string(resources[name])
		if _, seen := data.SystemInfo["title"]; !seen {
			if m := pageTitleRegex.FindStringSubmatch(body); m != nil {
				if title := cleanCell(m[1]); title != "" {
					data.SystemInfo["title"] = title
				}
			}
		}
		if _, seen := data.SystemInfo["model_hint"]; !seen {
			if hint := modelHintRegex.FindString(body); hint != "" {
				data.SystemInfo["model_hint"] = hint
			}
		}
	}
	return data, nil
}
