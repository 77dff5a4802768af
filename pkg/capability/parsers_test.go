package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rowPerChannelPage = `<html><body>
<table>
<tr><th colspan="8"><strong>Downstream Bonded Channels</strong></th></tr>
<tr><td>Channel ID</td><td>Lock Status</td><td>Modulation</td><td>Frequency</td><td>Power</td><td>SNR/MER</td><td>Corrected</td><td>Uncorrectables</td></tr>
<tr><td>1</td><td>Locked</td><td>QAM256</td><td>507000000 Hz</td><td>1.1 dBmV</td><td>39.8 dB</td><td>123</td><td>4</td></tr>
<tr><td>2</td><td>Locked</td><td>OFDM PLC</td><td>690000000 Hz</td><td>-0.3 dBmV</td><td>41.2 dB</td><td>999</td><td>0</td></tr>
</table>
<table>
<tr><th colspan="7">Upstream Bonded Channels</th></tr>
<tr><td>Channel</td><td>Channel ID</td><td>Lock Status</td><td>US Channel Type</td><td>Frequency</td><td>Width</td><td>Power</td></tr>
<tr><td>1</td><td>3</td><td>Locked</td><td>SC-QAM</td><td>17600000 Hz</td><td>6400000 Hz</td><td>46.8 dBmV</td></tr>
</table>
</body></html>`

const transposedPage = `<html><body>
<table>
<tr><td colspan="4">Downstream</td></tr>
<tr><td>Channel ID</td><td>1</td><td>2</td><td>3</td></tr>
<tr><td>Frequency</td><td>507000000 Hz</td><td>513000000 Hz</td><td>519000000 Hz</td></tr>
<tr><td>Signal to Noise Ratio</td><td>38 dB</td><td>37 dB</td><td>38 dB</td></tr>
<tr><td>Downstream Modulation</td><td>QAM256</td><td>QAM256</td><td>QAM256</td></tr>
<tr><td>Power Level</td><td>0 dBmV</td><td>-1 dBmV</td><td>1 dBmV</td></tr>
</table>
<table>
<tr><td colspan="2">Upstream</td></tr>
<tr><td>Channel ID</td><td>1</td></tr>
<tr><td>Frequency</td><td>36000000 Hz</td></tr>
<tr><td>Power Level</td><td>47 dBmV</td></tr>
<tr><td>Symbol Rate</td><td>5120 kSym/sec</td></tr>
</table>
</body></html>`

func TestHTMLParser_RowPerChannelLayout(t *testing.T) {
	data, err := htmlStatusParser{}.ParseResources(map[string][]byte{
		"connection": []byte(rowPerChannelPage),
	})
	require.NoError(t, err)
	require.Len(t, data.Downstream, 2)
	require.Len(t, data.Upstream, 1)

	ds := data.Downstream[0]
	assert.Equal(t, 1, ds.ChannelID)
	assert.True(t, ds.Locked)
	assert.Equal(t, "QAM256", ds.Modulation)
	assert.Equal(t, ChannelTypeSCQAM, ds.ChannelType)
	assert.Equal(t, 507000000, ds.Frequency)
	assert.InDelta(t, 1.1, ds.Power, 0.001)
	assert.InDelta(t, 39.8, ds.SNR, 0.001)
	assert.Equal(t, int64(123), ds.Corrected)
	assert.Equal(t, int64(4), ds.Uncorrected)

	assert.Equal(t, ChannelTypeOFDM, data.Downstream[1].ChannelType)

	us := data.Upstream[0]
	assert.Equal(t, 3, us.ChannelID)
	assert.Equal(t, ChannelTypeSCQAM, us.ChannelType)
	assert.Equal(t, 17600000, us.Frequency)
	assert.InDelta(t, 46.8, us.Power, 0.001)
}

func TestHTMLParser_TransposedLayout(t *testing.T) {
	data, err := htmlStatusParser{}.ParseResources(map[string][]byte{
		"signal": []byte(transposedPage),
	})
	require.NoError(t, err)
	require.Len(t, data.Downstream, 3)
	require.Len(t, data.Upstream, 1)

	assert.Equal(t, 2, data.Downstream[1].ChannelID)
	assert.Equal(t, 513000000, data.Downstream[1].Frequency)
	assert.InDelta(t, -1.0, data.Downstream[1].Power, 0.001)
	assert.InDelta(t, 37.0, data.Downstream[1].SNR, 0.001)
	assert.Equal(t, "QAM256", data.Downstream[1].Modulation)

	assert.Equal(t, 5120, data.Upstream[0].SymbolRate)
	assert.Equal(t, 36000000, data.Upstream[0].Frequency)
}

func TestHTMLParser_NoTables(t *testing.T) {
	_, err := htmlStatusParser{}.ParseResources(map[string][]byte{
		"status": []byte("<html><body><p>Please log in</p></body></html>"),
	})
	assert.Error(t, err)
}

const restMergedDocument = `{
  "downstream": {"channels": [
    {"channelId": 1, "frequency": 331000000, "power": 2.5, "modulation": "qam_256",
     "snr": 40, "correctedErrors": 12, "uncorrectedErrors": 2, "channelType": "sc_qam",
     "rxMer": 0, "lockStatus": true},
    {"channelId": 33, "frequency": 690000000, "power": 1.0, "modulation": "qam_4096",
     "snr": 0, "correctedErrors": 0, "uncorrectedErrors": 0, "channelType": "ofdm",
     "rxMer": 43, "lockStatus": true}
  ]},
  "upstream": {"channels": [
    {"channelId": 4, "frequency": 39400000, "power": 43.5, "modulation": "qam_64",
     "channelType": "atdma", "lockStatus": true, "symbolRate": 5120}
  ]},
  "state": {"firmwareVersion": "LG-RDK-5.7.2", "upTime": "5d 3h",
            "status": "OPERATIONAL", "serialNumber": "ABCD1234"}
}`

func TestRESTParser_MergedDocument(t *testing.T) {
	data, err := restChannelParser{}.ParseResources(map[string][]byte{
		"cablemodem": []byte(restMergedDocument),
	})
	require.NoError(t, err)
	require.Len(t, data.Downstream, 2)
	require.Len(t, data.Upstream, 1)

	ds := data.Downstream[0]
	assert.Equal(t, 1, ds.ChannelID)
	assert.Equal(t, "QAM256", ds.Modulation)
	assert.Equal(t, ChannelTypeSCQAM, ds.ChannelType)
	assert.InDelta(t, 40.0, ds.SNR, 0.001)
	assert.Equal(t, int64(12), ds.Corrected)

	// OFDM channels report RxMER in place of SNR.
	ofdm := data.Downstream[1]
	assert.Equal(t, ChannelTypeOFDM, ofdm.ChannelType)
	assert.Equal(t, "QAM4096", ofdm.Modulation)
	assert.InDelta(t, 43.0, ofdm.SNR, 0.001)

	us := data.Upstream[0]
	assert.Equal(t, ChannelTypeATDMA, us.ChannelType)
	assert.Equal(t, 5120, us.SymbolRate)
	assert.True(t, us.Locked)

	assert.Equal(t, "LG-RDK-5.7.2", data.SystemInfo["firmware_version"])
	assert.Equal(t, "5d 3h", data.SystemInfo["uptime"])
	assert.Equal(t, "OPERATIONAL", data.SystemInfo["status"])
	assert.Equal(t, "ABCD1234", data.SystemInfo["serial_number"])
}

func TestRESTParser_RejectsNonJSON(t *testing.T) {
	_, err := restChannelParser{}.ParseResources(map[string][]byte{
		"cablemodem": []byte("<html>not json</html>"),
	})
	assert.Error(t, err)
}

func TestHNAPParser_MotoBatch(t *testing.T) {
	resources := map[string][]byte{
		"GetMotoStatusDownstreamChannelInfo": []byte(`{"MotoConnDownstreamChannel":
			"1^Locked^QAM256^32^507.0^ 1.1^38.9^123^4^|+|2^Locked^QAM256^33^513.0^ 1.3^38.6^77^0^"}`),
		"GetMotoStatusUpstreamChannelInfo": []byte(`{"MotoConnUpstreamChannel":
			"1^Locked^SC-QAM^1^5120^35.6^46.5^"}`),
		"GetMotoStatusSoftware": []byte(`{"StatusSoftwareSfVer": "8600-19.3.18",
			"StatusSoftwareSerialNum": "123456789", "StatusSoftwareMac": "AA:BB:CC:DD:EE:FF"}`),
		"GetMotoStatusConnectionInfo": []byte(`{"MotoConnSystemUpTime": "7 days 03h:45m",
			"MotoConnNetworkAccess": "Allowed"}`),
	}

	data, err := hnapChannelParser{}.ParseResources(resources)
	require.NoError(t, err)
	require.Len(t, data.Downstream, 2)
	require.Len(t, data.Upstream, 1)

	ds := data.Downstream[0]
	assert.Equal(t, 32, ds.ChannelID)
	assert.True(t, ds.Locked)
	assert.Equal(t, "QAM256", ds.Modulation)
	assert.Equal(t, 507000000, ds.Frequency)
	assert.InDelta(t, 1.1, ds.Power, 0.001)
	assert.InDelta(t, 38.9, ds.SNR, 0.001)
	assert.Equal(t, int64(123), ds.Corrected)
	assert.Equal(t, int64(4), ds.Uncorrected)

	us := data.Upstream[0]
	assert.Equal(t, 1, us.ChannelID)
	assert.Equal(t, ChannelTypeSCQAM, us.ChannelType)
	assert.Equal(t, 5120, us.SymbolRate)
	assert.Equal(t, 35600000, us.Frequency)
	assert.InDelta(t, 46.5, us.Power, 0.001)

	assert.Equal(t, "8600-19.3.18", data.SystemInfo["software_version"])
	assert.Equal(t, "123456789", data.SystemInfo["serial_number"])
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", data.SystemInfo["mac_address"])
	assert.Equal(t, "7 days 03h:45m", data.SystemInfo["uptime"])
	assert.Equal(t, "Allowed", data.SystemInfo["network_access"])
}

func TestHNAPParser_NothingRecognized(t *testing.T) {
	_, err := hnapChannelParser{}.ParseResources(map[string][]byte{
		"GetSomethingElse": []byte(`{"Unrelated": "value"}`),
	})
	assert.Error(t, err)
}

func TestFallbackParser_ExtractsHints(t *testing.T) {
	data, err := fallbackParser{}.ParseResources(map[string][]byte{
		"root": []byte(`<html><head><title>Residential  Gateway</title></head>
			<body>Model: SB6141 signal page</body></html>`),
	})
	require.NoError(t, err)
	assert.False(t, data.HasChannels())
	assert.Equal(t, "Residential Gateway", data.SystemInfo["title"])
	assert.Equal(t, "SB6141", data.SystemInfo["model_hint"])
}

func TestFallbackParser_EmptyInputStillSucceeds(t *testing.T) {
	data, err := fallbackParser{}.ParseResources(map[string][]byte{})
	require.NoError(t, err)
	assert.True(t, data.Empty())
}

func TestFrequencyNormalization(t *testing.T) {
	assert.Equal(t, 507000000, parseFrequencyHz("507000000 Hz"))
	assert.Equal(t, 507000000, parseFrequencyHz("507.0 MHz"))
	assert.Equal(t, 507000000, parseFrequencyHz("507.0"))
	assert.Equal(t, 36000, parseFrequencyHz("36 kHz"))
	assert.Equal(t, 0, parseFrequencyHz("n/a"))
}
