package session

import (
	"log"
	"math"
	"time"
)

// ChunkEvent событие готовности чанка
type ChunkEvent struct {
	// Таймстемпы в миллисекундах (для извлечения из MP3)
	StartMs  int64
	EndMs    int64
	Duration time.Duration
	Index    int64

	// Семплы чанка (микс или моно)
	Samples     []float32
	MicSamples  []float32 // Только микрофон (опционально)
	SysSamples  []float32 // Только системный звук (опционально)
	StartOffset int64     // deprecated: use StartMs
	EndOffset   int64     // deprecated: use EndMs
}

const windowSizeMs = 100

// ChunkBuffer буфер для VAD-driven и fixed-interval нарезки на чанки.
// Три append-only массива (mix, mic, sys) плюс счётчик emittedSamples,
// отмечающий границу уже выданных чанков (см. §4.5/§4.9 спецификации).
type ChunkBuffer struct {
	config     VADConfig
	sampleRate int

	accumulated    []float32 // mix = (mic+sys)/2 когда стерео, иначе моно
	micAccumulated []float32
	sysAccumulated []float32

	totalSamples   int64
	emittedSamples int64

	startTime time.Time

	chunkingEnabled     bool
	hasSeparateChannels bool

	nextIndex int64

	outputChan chan ChunkEvent
}

// NewChunkBuffer создаёт новый буфер для чанков
func NewChunkBuffer(config VADConfig, sampleRate int) *ChunkBuffer {
	return &ChunkBuffer{
		config:         config,
		sampleRate:     sampleRate,
		accumulated:    make([]float32, 0, sampleRate*600),
		micAccumulated: make([]float32, 0, sampleRate*600),
		sysAccumulated: make([]float32, 0, sampleRate*600),
		outputChan:     make(chan ChunkEvent, 10),
		startTime:      time.Now(),
	}
}

// ProcessStereo обрабатывает раздельные каналы микрофона и системного звука
func (b *ChunkBuffer) ProcessStereo(micSamples, sysSamples []float32) {
	minLen := len(micSamples)
	if len(sysSamples) < minLen {
		minLen = len(sysSamples)
	}
	if minLen == 0 {
		return
	}

	b.hasSeparateChannels = true
	b.micAccumulated = append(b.micAccumulated, micSamples[:minLen]...)
	b.sysAccumulated = append(b.sysAccumulated, sysSamples[:minLen]...)

	mix := make([]float32, minLen)
	for i := 0; i < minLen; i++ {
		mix[i] = (micSamples[i] + sysSamples[i]) / 2
	}
	b.Process(mix)
}

// Process обрабатывает входящие моно-семплы (микс).
// total_samples обновляется до проверки start_delay, т.е. считает семплы
// даже до того, как станет возможна выдача первого чанка (см. Open Questions).
func (b *ChunkBuffer) Process(samples []float32) {
	b.accumulated = append(b.accumulated, samples...)
	b.totalSamples += int64(len(samples))

	if !b.chunkingEnabled {
		elapsed := time.Since(b.startTime)
		if elapsed >= b.config.ChunkingStartDelay {
			b.chunkingEnabled = true
			log.Printf("Chunking enabled after %v", elapsed)
		} else {
			return
		}
	}

	b.tryEmit()
}

// findSilenceGap сканирует [startPos, endPos) окнами по 100ms в поисках
// silence_ms/100ms подряд идущих тихих окон; возвращает центр найденной
// паузы, либо -1.
func (b *ChunkBuffer) findSilenceGap(startPos, endPos int64) int64 {
	windowSamples := int64(b.sampleRate) * windowSizeMs / 1000
	if windowSamples <= 0 {
		return -1
	}
	neededWindows := b.config.SilenceDuration.Milliseconds() / windowSizeMs
	if neededWindows < 1 {
		neededWindows = 1
	}

	consecutive := int64(0)
	silenceStart := int64(-1)

	for pos := startPos; pos+windowSamples <= endPos && pos+windowSamples <= int64(len(b.accumulated)); pos += windowSamples {
		window := b.accumulated[pos : pos+windowSamples]
		rms := CalculateRMS(window)

		if rms < b.config.SilenceThreshold {
			if consecutive == 0 {
				silenceStart = pos
			}
			consecutive++
			if consecutive >= neededWindows {
				silentSamples := consecutive * windowSamples
				return silenceStart + silentSamples/2
			}
		} else {
			consecutive = 0
			silenceStart = -1
		}
	}

	return -1
}

// tryEmit implements try_emit (§4.5): off mode cuts on a fixed sample count,
// auto mode searches for a silence gap within [emitted+min, emitted+max].
func (b *ChunkBuffer) tryEmit() {
	if b.config.Mode == ChunkModeOff {
		b.tryEmitFixed()
		return
	}
	b.tryEmitAuto()
}

func (b *ChunkBuffer) tryEmitFixed() {
	fixedSamples := int64(b.config.MinChunkDuration.Seconds() * float64(b.sampleRate))
	if fixedSamples <= 0 {
		return
	}
	for int64(len(b.accumulated))-b.emittedSamples >= fixedSamples {
		splitPoint := b.emittedSamples + fixedSamples
		b.emit(splitPoint)
	}
}

func (b *ChunkBuffer) tryEmitAuto() {
	availableSamples := int64(len(b.accumulated)) - b.emittedSamples
	if availableSamples <= 0 {
		return
	}

	minChunkSamples := int64(b.config.MinChunkDuration.Seconds() * float64(b.sampleRate))
	maxChunkSamples := int64(b.config.MaxChunkDuration.Seconds() * float64(b.sampleRate))

	if availableSamples < minChunkSamples {
		return
	}

	searchStart := b.emittedSamples + minChunkSamples
	searchEnd := b.emittedSamples + availableSamples
	if searchEnd > b.emittedSamples+maxChunkSamples {
		searchEnd = b.emittedSamples + maxChunkSamples
	}

	splitPoint := b.findSilenceGap(searchStart, searchEnd)

	if splitPoint == -1 {
		if availableSamples >= maxChunkSamples {
			splitPoint = b.emittedSamples + maxChunkSamples
			log.Printf("Forced chunk split at max duration (%v)", b.config.MaxChunkDuration)
		} else {
			return
		}
	}

	if splitPoint-b.emittedSamples < minChunkSamples {
		return
	}

	b.emit(splitPoint)
}

// emit cuts [emittedSamples, splitPoint) into a ChunkEvent and pushes it to
// outputChan; on a full channel the chunk is dropped with a logged warning
// rather than blocking the recording thread.
func (b *ChunkBuffer) emit(splitPoint int64) {
	chunkSize := splitPoint - b.emittedSamples
	if chunkSize <= 0 {
		return
	}

	samples := make([]float32, chunkSize)
	copy(samples, b.accumulated[b.emittedSamples:splitPoint])

	duration := time.Duration(chunkSize) * time.Second / time.Duration(b.sampleRate)
	startMs := b.emittedSamples * 1000 / int64(b.sampleRate)
	endMs := splitPoint * 1000 / int64(b.sampleRate)

	log.Printf("Emitting chunk: %.1f seconds [%d-%d ms]", duration.Seconds(), startMs, endMs)

	event := ChunkEvent{
		StartMs:     startMs,
		EndMs:       endMs,
		Duration:    duration,
		Samples:     samples,
		Index:       b.nextIndex,
		StartOffset: b.emittedSamples,
		EndOffset:   splitPoint,
	}

	if b.hasSeparateChannels && int64(len(b.micAccumulated)) >= splitPoint && int64(len(b.sysAccumulated)) >= splitPoint {
		event.MicSamples = make([]float32, chunkSize)
		event.SysSamples = make([]float32, chunkSize)
		copy(event.MicSamples, b.micAccumulated[b.emittedSamples:splitPoint])
		copy(event.SysSamples, b.sysAccumulated[b.emittedSamples:splitPoint])
	}

	select {
	case b.outputChan <- event:
		b.emittedSamples = splitPoint
		b.nextIndex++
	default:
		log.Printf("Warning: chunk output channel full, dropping chunk")
	}
}

// Output возвращает канал с готовыми чанками
func (b *ChunkBuffer) Output() <-chan ChunkEvent {
	return b.outputChan
}

// FlushAll implements flush_all (§4.5): emits one final chunk covering the
// remainder if it is at least 1 second, otherwise nothing.
func (b *ChunkBuffer) FlushAll() []ChunkEvent {
	b.chunkingEnabled = true

	remaining := int64(len(b.accumulated)) - b.emittedSamples
	minFlushSamples := int64(b.sampleRate) // 1 second
	if remaining < minFlushSamples {
		if remaining > 0 {
			log.Printf("Skipping remaining %d samples (< 1 sec)", remaining)
		}
		return nil
	}

	splitPoint := int64(len(b.accumulated))
	before := b.emittedSamples
	b.emit(splitPoint)
	if b.emittedSamples == before {
		// emit() dropped it (channel full); nothing to report
		return nil
	}

	return []ChunkEvent{{
		StartMs:     before * 1000 / int64(b.sampleRate),
		EndMs:       splitPoint * 1000 / int64(b.sampleRate),
		Duration:    time.Duration(splitPoint-before) * time.Second / time.Duration(b.sampleRate),
		StartOffset: before,
		EndOffset:   splitPoint,
	}}
}

// DrainProcessedSamples implements drain_processed_samples(up_to_ms) (§3/§4.5):
// drops the prefix of mix/mic/sys up to up_to_ms and subtracts the same
// sample count from emittedSamples and totalSamples, floored at 0. Outstanding
// timestamps handed out as chunks remain valid since callers already have
// them in absolute session time; internal indices below are just shifted.
func (b *ChunkBuffer) DrainProcessedSamples(upToMs int64) {
	upToSamples := upToMs * int64(b.sampleRate) / 1000
	if upToSamples <= 0 {
		return
	}
	if upToSamples > int64(len(b.accumulated)) {
		upToSamples = int64(len(b.accumulated))
	}

	b.accumulated = append([]float32{}, b.accumulated[upToSamples:]...)
	if b.hasSeparateChannels {
		if upToSamples <= int64(len(b.micAccumulated)) {
			b.micAccumulated = append([]float32{}, b.micAccumulated[upToSamples:]...)
		}
		if upToSamples <= int64(len(b.sysAccumulated)) {
			b.sysAccumulated = append([]float32{}, b.sysAccumulated[upToSamples:]...)
		}
	}

	b.emittedSamples -= upToSamples
	if b.emittedSamples < 0 {
		b.emittedSamples = 0
	}
	b.totalSamples -= upToSamples
	if b.totalSamples < 0 {
		b.totalSamples = 0
	}
}

// GetSamplesRange возвращает срез mix между startMs и endMs (относительно
// текущего, возможно уже частично слитого, буфера). Всегда возвращает пустой
// слайс вместо паники, если startMs >= endMs или диапазон вне буфера.
func (b *ChunkBuffer) GetSamplesRange(startMs, endMs int64) []float32 {
	if startMs >= endMs {
		return []float32{}
	}
	start := startMs * int64(b.sampleRate) / 1000
	end := endMs * int64(b.sampleRate) / 1000
	n := int64(len(b.accumulated))
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start >= end {
		return []float32{}
	}
	out := make([]float32, end-start)
	copy(out, b.accumulated[start:end])
	return out
}

// Reset сбрасывает состояние буфера
func (b *ChunkBuffer) Reset() {
	b.accumulated = b.accumulated[:0]
	b.micAccumulated = b.micAccumulated[:0]
	b.sysAccumulated = b.sysAccumulated[:0]
	b.totalSamples = 0
	b.emittedSamples = 0
	b.chunkingEnabled = false
	b.hasSeparateChannels = false
	b.nextIndex = 0
	b.startTime = time.Now()
}

// TotalSamples возвращает общее количество обработанных семплов
func (b *ChunkBuffer) TotalSamples() int64 {
	return b.totalSamples
}

// AccumulatedDuration возвращает длительность накопленного аудио
func (b *ChunkBuffer) AccumulatedDuration() time.Duration {
	return time.Duration(len(b.accumulated)) * time.Second / time.Duration(b.sampleRate)
}

// Close закрывает канал
func (b *ChunkBuffer) Close() {
	close(b.outputChan)
}

// CalculateRMS вычисляет RMS для семплов
func CalculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s * s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
