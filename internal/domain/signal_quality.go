package domain

// RSSI limits in dBm. SNR is judged against the demodulation floor of the
// spreading factor in use.
const (
	RSSIGood = int16(-115)
	RSSIFair = int16(-126)

	// SNRGoodMargin is the margin in dB above the floor needed for a good link.
	SNRGoodMargin = 8
)

type SignalQuality int

const (
	SignalUnknown SignalQuality = iota
	SignalBad
	SignalFair
	SignalGood
)

func (q SignalQuality) String() string {
	switch q {
	case SignalGood:
		return "good"
	case SignalFair:
		return "fair"
	case SignalBad:
		return "bad"
	default:
		return "unknown"
	}
}

// SNRFloorTenths is the lowest demodulable SNR for sf in tenths of a dB:
// -7.5 dB at SF7, 2.5 dB lower for every step up to -20 dB at SF12.
func SNRFloorTenths(sf uint8) int {
	switch {
	case sf < 7:
		sf = 7
	case sf > 12:
		sf = 12
	}

	return -75 - 25*int(sf-7)
}

// DetermineSignalQuality rates a packet received with snr and rssi at
// spreading factor sf. A zero rssi means nothing was heard yet.
func DetermineSignalQuality(snr int8, rssi int16, sf uint8) SignalQuality {
	if rssi == 0 {
		return SignalUnknown
	}
	margin := int(snr)*10 - SNRFloorTenths(sf)
	switch {
	case margin >= SNRGoodMargin*10 && rssi >= RSSIGood:
		return SignalGood
	case margin >= 0 && rssi >= RSSIFair:
		return SignalFair
	default:
		return SignalBad
	}
}

// ContactSignalQuality rates the last packet heard from c at the default
// spreading factor.
func ContactSignalQuality(c Contact) SignalQuality {
	return DetermineSignalQuality(c.LastSNR, c.LastRSSI, DefaultRadioConfig().SpreadingFactor)
}
