package features

import (
	"strings"

	"netsentry/internal/profile"
	"netsentry/pkg/models"
)

// Dimensions is the fixed feature-vector length.
const Dimensions = 16

// Vector indices, in extraction order. The training record and the anomaly
// model both depend on this layout staying stable.
const (
	DimSeverity = iota
	DimDestPort
	DimProtocol
	DimPacketCount
	DimByteCount
	DimFlowDuration
	DimAvgPacketSize
	DimAlertFrequency
	DimUniquePorts
	DimUniqueDests
	DimSignatureDiversity
	DimProfileAge
	DimSrcPort
	DimAuthPort
	DimWebPort
	DimBenignArtifact
)

var authPorts = map[int]bool{
	21: true, 22: true, 23: true, 25: true, 110: true,
	143: true, 389: true, 445: true, 3389: true, 5900: true,
}

var webPorts = map[int]bool{
	80: true, 443: true, 8080: true, 8443: true,
}

// Benign artifact substrings: signatures produced by NIC hardware offload
// rather than hostile traffic. They keep their feature flag but never feed
// pattern windows or scores.
var benignArtifacts = []string{
	"checksum",
	"invalid ack",
	"packet out of window",
	"stream established",
	"invalid timestamp",
}

// Extract computes the fixed-dimension feature vector for one alert given
// the profile snapshot taken at its update instant. Deterministic: the same
// alert and snapshot always produce the same vector.
func Extract(alert *models.Alert, snap profile.Snapshot) []float64 {
	v := make([]float64, Dimensions)

	v[DimSeverity] = float64(alert.Severity) / 4.0
	v[DimDestPort] = float64(alert.DestPort) / 65535.0
	v[DimProtocol] = protocolCode(alert.Proto) / 3.0
	v[DimPacketCount] = float64(alert.PacketCount)
	v[DimByteCount] = float64(alert.ByteCount)
	v[DimFlowDuration] = alert.FlowDuration.Seconds()
	if alert.PacketCount > 0 {
		v[DimAvgPacketSize] = float64(alert.ByteCount) / float64(alert.PacketCount)
	}
	v[DimAlertFrequency] = float64(snap.AlertCount)
	v[DimUniquePorts] = float64(snap.UniquePorts)
	v[DimUniqueDests] = float64(snap.UniqueDests)
	v[DimSignatureDiversity] = float64(snap.UniqueSignatures)
	v[DimProfileAge] = snap.Age.Seconds()
	v[DimSrcPort] = float64(alert.SrcPort) / 65535.0
	v[DimAuthPort] = boolFeature(authPorts[alert.DestPort])
	v[DimWebPort] = boolFeature(webPorts[alert.DestPort])
	v[DimBenignArtifact] = boolFeature(IsBenignArtifact(alert.Signature))

	return v
}

// IsBenignArtifact reports whether a signature is a known hardware-offload
// artifact.
func IsBenignArtifact(signature string) bool {
	sig := strings.ToLower(signature)
	for _, marker := range benignArtifacts {
		if strings.Contains(sig, marker) {
			return true
		}
	}
	return false
}

func protocolCode(proto string) float64 {
	switch strings.ToUpper(proto) {
	case "TCP":
		return 1
	case "UDP":
		return 2
	case "ICMP", "IPV6-ICMP":
		return 3
	default:
		return 0
	}
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
