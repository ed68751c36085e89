package domain

import "testing"

func TestSNRFloorTenths(t *testing.T) {
	cases := map[uint8]int{5: -75, 7: -75, 9: -125, 11: -175, 12: -200, 15: -200}
	for sf, want := range cases {
		if got := SNRFloorTenths(sf); got != want {
			t.Fatalf("SF%d: got %d want %d", sf, got, want)
		}
	}
}

func TestDetermineSignalQuality(t *testing.T) {
	tests := []struct {
		name string
		snr  int8
		rssi int16
		sf   uint8
		want SignalQuality
	}{
		{name: "nothing heard", snr: 5, rssi: 0, sf: 11, want: SignalUnknown},
		{name: "strong link", snr: 6, rssi: -90, sf: 7, want: SignalGood},
		{name: "good needs margin at sf7", snr: 0, rssi: -90, sf: 7, want: SignalFair},
		{name: "same snr is good at sf12", snr: 0, rssi: -90, sf: 12, want: SignalGood},
		{name: "weak rssi caps at fair", snr: 6, rssi: RSSIGood - 1, sf: 7, want: SignalFair},
		{name: "below floor", snr: -8, rssi: -100, sf: 7, want: SignalBad},
		{name: "rssi below fair", snr: 0, rssi: RSSIFair - 1, sf: 12, want: SignalBad},
	}

	for _, tt := range tests {
		if got := DetermineSignalQuality(tt.snr, tt.rssi, tt.sf); got != tt.want {
			t.Fatalf("%s: got %v want %v", tt.name, got, tt.want)
		}
	}
}

func TestContactSignalQuality(t *testing.T) {
	c := Contact{LastSNR: -9, LastRSSI: -110}
	if got := ContactSignalQuality(c); got != SignalGood {
		t.Fatalf("expected good at default spreading factor, got %v", got)
	}
	if got := ContactSignalQuality(Contact{}); got.String() != "unknown" {
		t.Fatalf("expected unknown, got %v", got)
	}
}
