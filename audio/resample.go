package audio

import (
	"errors"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/window"
)

// ErrInvalidSampleRate возвращается при некорректной частоте дискретизации
// (нулевой или отрицательной) на входе/выходе ресемплера.
var ErrInvalidSampleRate = errors.New("audio: invalid sample rate")

// sincHalfWidth - половина длины sinc-фильтра в отсчётах входной частоты
// (итоговое окно фильтра - 2*sincHalfWidth+1 отсчётов), см. §4.3 заметок о C1.
const sincHalfWidth = 256

// resampleKernel - предвычисленный sinc-kernel с окном Blackman-Harris для
// одной пары (srcHz, dstHz). Строится один раз и переиспользуется на всех
// последующих вызовах Resample с той же парой частот.
type resampleKernel struct {
	srcHz, dstHz int
	ratio        float64 // dstHz / srcHz
	taps         []float64
}

var (
	kernelCacheMu sync.Mutex
	kernelCache   = map[[2]int]*resampleKernel{}
)

// buildKernel строит sinc-таблицу длиной 2*sincHalfWidth+1, взвешенную окном
// Blackman-Harris, для понижения/повышения частоты с srcHz до dstHz.
func buildKernel(srcHz, dstHz int) *resampleKernel {
	ratio := float64(dstHz) / float64(srcHz)
	// При понижении частоты окно sinc растягивается в 1/ratio раз, чтобы
	// срезать частоты выше новой частоты Найквиста (антиалиасинг).
	cutoff := ratio
	if cutoff > 1 {
		cutoff = 1
	}

	n := 2*sincHalfWidth + 1
	taps := make([]float64, n)
	for i := 0; i < n; i++ {
		x := float64(i-sincHalfWidth) * cutoff
		taps[i] = sinc(x) * cutoff
	}
	win := window.BlackmanHarris(make([]float64, n))
	for i := range taps {
		taps[i] *= win[i]
	}

	return &resampleKernel{srcHz: srcHz, dstHz: dstHz, ratio: ratio, taps: taps}
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

func getKernel(srcHz, dstHz int) *resampleKernel {
	key := [2]int{srcHz, dstHz}
	kernelCacheMu.Lock()
	defer kernelCacheMu.Unlock()
	if k, ok := kernelCache[key]; ok {
		return k
	}
	k := buildKernel(srcHz, dstHz)
	kernelCache[key] = k
	return k
}

// Resample переводит моно PCM-сэмплы из srcHz в dstHz с помощью
// sinc-интерполяции (окно Blackman-Harris, длина фильтра 513 отсчётов).
// В модуле не вызывается: запись идёт на частоте захвата (session.SampleRate),
// а к 16kHz для ASR/VAD аудио приводит линейный ресемплер пакета session.
func Resample(samples []float32, srcHz, dstHz int) ([]float32, error) {
	if srcHz <= 0 || dstHz <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if srcHz == dstHz || len(samples) == 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	k := getKernel(srcHz, dstHz)
	outLen := int(math.Ceil(float64(len(samples)) * k.ratio))
	out := make([]float32, outLen)

	// Для каждого выходного отсчёта находим соответствующую дробную позицию
	// во входном сигнале и свёртываем с sinc-таблицей вокруг неё.
	srcStep := 1.0 / k.ratio
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) * srcStep
		srcIdx := int(math.Floor(srcPos))
		frac := srcPos - float64(srcIdx)

		var acc float64
		for t := -sincHalfWidth; t <= sincHalfWidth; t++ {
			si := srcIdx + t
			if si < 0 || si >= len(samples) {
				continue
			}
			// Табличный индекс: центр таблицы соответствует frac=0, т.е.
			// смещение t компенсируется дробной частью позиции.
			tapPos := float64(t) - frac
			acc += float64(samples[si]) * sincInterp(k.taps, tapPos)
		}
		out[i] = float32(acc)
	}
	return out, nil
}

// sincInterp линейно интерполирует значение предвычисленной sinc-таблицы в
// произвольной (не обязательно целой) позиции относительно центра.
func sincInterp(taps []float64, pos float64) float64 {
	idx := pos + float64(sincHalfWidth)
	lo := int(math.Floor(idx))
	hi := lo + 1
	frac := idx - float64(lo)
	var loVal, hiVal float64
	if lo >= 0 && lo < len(taps) {
		loVal = taps[lo]
	}
	if hi >= 0 && hi < len(taps) {
		hiVal = taps[hi]
	}
	return loVal*(1-frac) + hiVal*frac
}

// LinearResample переводит srcHz -> dstHz линейной интерполяцией. Дешевле и
// менее точен, чем Resample. В модуле не вызывается.
func LinearResample(samples []float32, srcHz, dstHz int) ([]float32, error) {
	if srcHz <= 0 || dstHz <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if srcHz == dstHz || len(samples) == 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	ratio := float64(dstHz) / float64(srcHz)
	outLen := int(math.Ceil(float64(len(samples)) * ratio))
	out := make([]float32, outLen)
	step := 1.0 / ratio
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) * step
		idx := int(math.Floor(srcPos))
		frac := float32(srcPos - float64(idx))
		var a, b float32
		if idx >= 0 && idx < len(samples) {
			a = samples[idx]
		}
		if idx+1 >= 0 && idx+1 < len(samples) {
			b = samples[idx+1]
		}
		out[i] = a + (b-a)*frac
	}
	return out, nil
}
