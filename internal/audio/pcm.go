package audio

import (
	"fmt"
)

// DecodeSamples turns raw (non-mp3) audio into 16-bit linear samples
func DecodeSamples(data []byte, f Format) ([]int16, error) {
	switch f.Codec {
	case CodecPCM:
		return DecodePCM16(data)
	case CodecULaw:
		return DecodeMulaw(data)
	default:
		return nil, fmt.Errorf("codec %s is not raw PCM", f.Codec)
	}
}

// DecodePCM16 converts 16-bit signed little-endian bytes to samples
func DecodePCM16(pcmData []byte) ([]int16, error) {
	if len(pcmData) == 0 {
		return nil, fmt.Errorf("empty PCM data")
	}
	if len(pcmData)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}

	samples := make([]int16, len(pcmData)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(pcmData[i*2]) | int16(pcmData[i*2+1])<<8
	}
	return samples, nil
}

// DecodeMulaw converts G.711 μ-law bytes to linear samples
func DecodeMulaw(mulawData []byte) ([]int16, error) {
	if len(mulawData) == 0 {
		return nil, fmt.Errorf("empty PCMU data")
	}

	samples := make([]int16, len(mulawData))
	for i, b := range mulawData {
		samples[i] = mulawToLinear(b)
	}
	return samples, nil
}

// Resample performs linear interpolation resampling
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio

		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// SampleToFloat maps a 16-bit sample into [-1, 1)
func SampleToFloat(s int16) float64 {
	return float64(s) / 32768.0
}

// mulawToLinear converts an 8-bit μ-law sample to 16-bit linear PCM
func mulawToLinear(mulawByte byte) int16 {
	// μ-law bytes are stored inverted
	mulawByte = ^mulawByte

	sign := mulawByte & 0x80
	segment := int32((mulawByte >> 4) & 0x07)
	mantissa := int32(mulawByte & 0x0F)

	// step = (mantissa << (segment + 1)) + (33 << segment), minus the bias
	step := mantissa << (segment + 1)
	step += int32(33) << segment
	magnitude := step - 33

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}
