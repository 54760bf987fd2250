// Package airplay holds the AirPlay device description shared by the AirPlay
// and AirPlay2 casting devices: the /info property list and its feature and
// status bit sets.
package airplay

import (
	"fmt"

	"github.com/pkg/errors"

	"go2tv.app/castkit/plist"
)

// Features is the 64-bit feature mask advertised by a receiver.
type Features uint64

const (
	FeatureVideo                   Features = 1 << 0
	FeaturePhoto                   Features = 1 << 1
	FeatureVideoFairPlay           Features = 1 << 2
	FeatureVideoVolumeControl      Features = 1 << 3
	FeatureVideoHTTPLiveStreams    Features = 1 << 4
	FeatureSlideshow               Features = 1 << 5
	FeatureScreen                  Features = 1 << 7
	FeatureScreenRotate            Features = 1 << 8
	FeatureAudio                   Features = 1 << 9
	FeatureAudioRedundant          Features = 1 << 11
	FeatureFPSAPv2pt5AESGCM        Features = 1 << 12
	FeaturePhotoCaching            Features = 1 << 13
	FeatureAuthentication4         Features = 1 << 14
	FeatureMetadataArtwork         Features = 1 << 15
	FeatureMetadataProgress        Features = 1 << 16
	FeatureMetadataText            Features = 1 << 17
	FeatureAudioFormat1            Features = 1 << 18
	FeatureAudioFormat2            Features = 1 << 19
	FeatureAudioFormat3            Features = 1 << 20
	FeatureAudioFormat4            Features = 1 << 21
	FeatureAuthentication1         Features = 1 << 23
	FeatureHasUnifiedAdvertiser    Features = 1 << 26
	FeatureSupportsLegacyPairing   Features = 1 << 27
	FeatureRAOP                    Features = 1 << 30
	FeatureSupportsVolume          Features = 1 << 32
	FeatureVideoPlayQueue          Features = 1 << 33
	FeatureAirPlayFromCloud        Features = 1 << 34
	FeatureCoreUtilsPairing        Features = 1 << 38
	FeatureBufferedAudio           Features = 1 << 40
	FeaturePTP                     Features = 1 << 41
	FeatureScreenMultiCodec        Features = 1 << 42
	FeatureSystemPairing           Features = 1 << 43
	FeatureHKPairingAccessControl  Features = 1 << 46
	FeatureTransientPairing        Features = 1 << 48
	FeatureMetadataBinaryPlist     Features = 1 << 50
	FeatureUnifiedPairSetupAndMFi  Features = 1 << 51
	FeatureSetPeersExtendedMessage Features = 1 << 52
)

// Has reports whether all bits of f are set.
func (m Features) Has(f Features) bool {
	return m&f == f
}

// AirPlay2 reports whether the receiver can take an AirPlay 2 session.
func (m Features) AirPlay2() bool {
	return m.Has(FeatureAudioFormat2 | FeatureAudioFormat3)
}

// Status is the receiver status flag mask.
type Status uint32

const (
	StatusProblem                Status = 1 << 0
	StatusNotConfigured          Status = 1 << 1
	StatusAudioCableAttached     Status = 1 << 2
	StatusPINRequired            Status = 1 << 3
	StatusAirPlayFromCloud       Status = 1 << 6
	StatusPasswordRequired       Status = 1 << 7
	StatusOneTimePairingRequired Status = 1 << 9
	StatusSetupForHKAccess       Status = 1 << 10
	StatusSupportsRelay          Status = 1 << 11
	StatusSilentPrimary          Status = 1 << 12
	StatusTightSyncIsGroupLeader Status = 1 << 13
	StatusTightSyncBuddyUnreach  Status = 1 << 14
	StatusAppleMusicSubscriber   Status = 1 << 15
	StatusCloudLibraryOn         Status = 1 << 16
	StatusReceiverSessionActive  Status = 1 << 17
)

// Has reports whether all bits of s are set.
func (m Status) Has(s Status) bool {
	return m&s == s
}

// Info is the subset of GET /info the casting devices use.
type Info struct {
	DeviceID     string
	Features     Features
	StatusFlags  Status
	Manufacturer string
	Model        string
	Name         string
	TxtAirPlay   []byte
}

var ErrNotDictionary = errors.New("airplay: info is not a dictionary")

// ParseInfo extracts Info from a decoded /info property list. Missing keys
// are left zero; keys with the wrong type are errors.
func ParseInfo(v any) (Info, error) {
	dict, ok := v.(map[string]any)
	if !ok {
		return Info{}, ErrNotDictionary
	}

	var (
		info Info
		err  error
	)
	if info.DeviceID, err = stringKey(dict, "deviceID"); err != nil {
		return info, err
	}
	if info.Manufacturer, err = stringKey(dict, "manufacturer"); err != nil {
		return info, err
	}
	if info.Model, err = stringKey(dict, "model"); err != nil {
		return info, err
	}
	if info.Name, err = stringKey(dict, "name"); err != nil {
		return info, err
	}

	features, err := uintKey(dict, "features")
	if err != nil {
		return info, err
	}
	info.Features = Features(features)

	status, err := uintKey(dict, "statusFlags")
	if err != nil {
		return info, err
	}
	info.StatusFlags = Status(status)

	if raw, ok := dict["txtAirPlay"]; ok {
		b, ok := raw.([]byte)
		if !ok {
			return info, fmt.Errorf("airplay: key txtAirPlay is %T, not data", raw)
		}
		info.TxtAirPlay = b
	}

	return info, nil
}

// DecodeInfo parses a binary plist /info response body.
func DecodeInfo(body []byte) (Info, error) {
	v, err := plist.Unmarshal(body)
	if err != nil {
		return Info{}, fmt.Errorf("airplay decode info error: %w", err)
	}
	return ParseInfo(v)
}

func stringKey(dict map[string]any, key string) (string, error) {
	raw, ok := dict[key]
	if !ok {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("airplay: key %s is %T, not a string", key, raw)
	}
	return s, nil
}

func uintKey(dict map[string]any, key string) (uint64, error) {
	raw, ok := dict[key]
	if !ok {
		return 0, nil
	}
	switch x := raw.(type) {
	case int64:
		return uint64(x), nil
	case uint64:
		return x, nil
	}
	return 0, fmt.Errorf("airplay: key %s is %T, not an integer", key, raw)
}
