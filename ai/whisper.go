package ai

import (
	whisper "aiwisper/ai/binding"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// WhisperEngine - движок на базе whisper.cpp (in-process CGO), один из
// бэкендов TranscriptionEngine наравне с GigaAM и FluidAudio.
type WhisperEngine struct {
	model     whisper.Model
	modelPath string
	language  string
	mu        sync.Mutex
}

// NewWhisperEngine загружает GGML-модель whisper.cpp по пути modelPath.
func NewWhisperEngine(modelPath string) (*WhisperEngine, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}

	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, err
	}

	lang := strings.TrimSpace(os.Getenv("WHISPER_LANG"))
	if lang == "" {
		lang = "auto" // Автоопределение позволит распознавать русский и английский
	}

	log.Printf("Whisper init: language=%s model=%s", lang, modelPath)

	return &WhisperEngine{
		model:     model,
		modelPath: modelPath,
		language:  lang,
	}, nil
}

// Name реализует TranscriptionEngine.
func (e *WhisperEngine) Name() string { return "whisper" }

// SupportedLanguages реализует TranscriptionEngine. whisper.cpp определяет
// язык моделью Large-v3 multi и принимает "auto" как особое значение.
func (e *WhisperEngine) SupportedLanguages() []string {
	return []string{"auto", "ru", "en"}
}

func (e *WhisperEngine) Transcribe(samples []float32, useContext bool) (string, error) {
	segments, err := e.TranscribeWithSegments(samples)
	if err != nil {
		return "", err
	}
	return joinSegmentTexts(segments), nil
}

// TranscribeWithSegments возвращает сегменты с таймстемпами
func (e *WhisperEngine) TranscribeWithSegments(samples []float32) ([]TranscriptSegment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Проверяем что аудио содержит речь (не только шум/тишину)
	if !hasSignificantAudio(samples) {
		log.Printf("Skipping transcription: audio too quiet or no speech detected")
		return nil, nil
	}

	return e.runInference(samples, 5, 128)
}

// TranscribeHighQuality прогоняет весь буфер с более широким лучом поиска и
// без ограничения на число токенов в сегменте - дороже, но точнее, для
// финальной пересборки записи, а не потокового чанка.
func (e *WhisperEngine) TranscribeHighQuality(samples []float32) ([]TranscriptSegment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !hasSignificantAudio(samples) {
		return nil, nil
	}

	return e.runInference(samples, 8, 0)
}

// runInference - общий путь whisper.cpp контекста для потоковой и
// высококачественной транскрипции; отличаются только шириной луча и
// ограничением токенов на сегмент (0 = без ограничения).
func (e *WhisperEngine) runInference(samples []float32, beamSize, maxTokensPerSegment int) ([]TranscriptSegment, error) {
	norm := normalize(samples)

	ctx, err := e.model.NewContext()
	if err != nil {
		return nil, err
	}

	if err := ctx.SetLanguage(e.language); err != nil {
		log.Printf("Failed to set language %q, falling back to auto: %v", e.language, err)
		_ = ctx.SetLanguage("auto")
	} else {
		ctx.SetTranslate(false)
	}

	ctx.SetBeamSize(beamSize)
	ctx.SetTemperature(0.0)         // Детерминированный вывод - меньше галлюцинаций
	ctx.SetTemperatureFallback(0.2) // Меньше вариативности при fallback
	if maxTokensPerSegment > 0 {
		ctx.SetMaxTokensPerSegment(maxTokensPerSegment)
	}
	ctx.SetSplitOnWord(true)
	ctx.SetEntropyThold(2.4)
	ctx.SetMaxContext(-1) // Не использовать контекст предыдущих сегментов (аналог condition_on_previous_text=False)

	log.Printf("WhisperEngine: samples=%d duration=%.1fs lang=%s beam=%d", len(samples), float64(len(samples))/16000, e.language, beamSize)

	if err := ctx.Process(norm, nil, nil, nil); err != nil {
		return nil, err
	}

	var segments []TranscriptSegment
	for {
		segment, err := ctx.NextSegment()
		if err != nil {
			break
		}

		text := strings.TrimSpace(segment.Text)
		if text != "" {
			segments = append(segments, TranscriptSegment{
				Start: segment.Start.Milliseconds(),
				End:   segment.End.Milliseconds(),
				Text:  text,
			})
		}
	}

	return segments, nil
}

// hasSignificantAudio проверяет что аудио содержит значимый сигнал
func hasSignificantAudio(samples []float32) bool {
	if len(samples) < 1600 { // Меньше 0.1 секунды
		return false
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s * s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))

	const minRMS = 0.005

	if rms < minRMS {
		log.Printf("Audio RMS %.4f below threshold %.4f", rms, minRMS)
		return false
	}

	var maxAbs float32
	for _, s := range samples {
		if s > maxAbs {
			maxAbs = s
		} else if -s > maxAbs {
			maxAbs = -s
		}
	}

	if maxAbs < 0.01 {
		log.Printf("Audio max amplitude %.4f too low", maxAbs)
		return false
	}

	return true
}

func (e *WhisperEngine) Close() {
	e.model.Close()
}

func (e *WhisperEngine) SetLanguage(lang string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return
	}
	e.language = lang
}

func (e *WhisperEngine) SetModel(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	absPath, _ := filepath.Abs(path)
	absCurrentPath, _ := filepath.Abs(e.modelPath)
	if absPath == absCurrentPath {
		return nil // Та же модель, ничего не делаем
	}

	if _, err := os.Stat(path); err != nil {
		return err
	}

	log.Printf("Switching whisper model from %s to %s", e.modelPath, path)

	newModel, err := whisper.New(path)
	if err != nil {
		return err
	}

	old := e.model
	e.model = newModel
	e.modelPath = path
	if old != nil {
		old.Close()
	}
	return nil
}

func normalize(in []float32) []float32 {
	const targetRMS = 0.03
	if len(in) == 0 {
		return in
	}
	var sum float64
	for _, s := range in {
		sum += float64(s * s)
	}
	rms := math.Sqrt(sum / float64(len(in)))
	scale := targetRMS / (rms + 1e-6)
	if scale > 5.0 {
		scale = 5.0
	}
	out := make([]float32, len(in))
	for i, v := range in {
		x := float64(v) * scale
		if x > 1 {
			x = 1
		} else if x < -1 {
			x = -1
		}
		out[i] = float32(x)
	}
	return out
}
