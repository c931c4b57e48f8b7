//go:build darwin

package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// FluidASREngine выполняет транскрипцию через FluidAudio (Swift/CoreML)
// Использует subprocess для вызова transcription-fluid binary
// Это обеспечивает стабильную работу без memory leak (каждый вызов = новый процесс)
// Поддерживает параллельные вызовы через отдельные процессы
type FluidASREngine struct {
	binaryPath     string
	modelCacheDir  string
	pauseThreshold float64
	modelVersion   FluidModelVersion
	language       string
	mu             sync.Mutex
	initialized    bool
	supportedLangs []string
}

// FluidModelVersion версия модели Parakeet TDT
type FluidModelVersion string

const (
	// FluidModelV2 - Parakeet TDT v2 (English-only, higher recall for English)
	FluidModelV2 FluidModelVersion = "v2"
	// FluidModelV3 - Parakeet TDT v3 (Multilingual: 25 European languages)
	FluidModelV3 FluidModelVersion = "v3"
)

// FluidASRConfig конфигурация для FluidASREngine
type FluidASRConfig struct {
	BinaryPath     string            // Путь к transcription-fluid binary (опционально)
	ModelCacheDir  string            // Директория для кэша моделей FluidAudio
	PauseThreshold float64           // Порог паузы для сегментации (секунды), по умолчанию 0.5
	ModelVersion   FluidModelVersion // Версия модели: v2 (English) или v3 (Multilingual), по умолчанию v3
}

// fluidTranscriptionResult структура JSON ответа от transcription-fluid
type fluidTranscriptionResult struct {
	Segments     []fluidTranscriptSegment `json:"segments"`
	Language     string                   `json:"language"`
	ModelVersion string                   `json:"model_version"`
	Error        string                   `json:"error,omitempty"`
}

// fluidTranscriptWord структура для word-level timestamps от FluidAudio
type fluidTranscriptWord struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Confidence *float32 `json:"confidence,omitempty"`
}

type fluidTranscriptSegment struct {
	Start float64               `json:"start"`
	End   float64               `json:"end"`
	Text  string                `json:"text"`
	Words []fluidTranscriptWord `json:"words,omitempty"` // Word-level timestamps для dialogue merge
}

// getFluidASRBinaryPath ищет transcription-fluid binary в нескольких местах
func getFluidASRBinaryPath() string {
	return findFluidTool("transcription-fluid", "transcription")
}

// parakeetV3Languages - языки, поддерживаемые Parakeet TDT v3 (multilingual).
// v2 поддерживает только английский.
var parakeetV3Languages = []string{
	"multi", "en", "de", "es", "fr", "it", "pt", "pl", "nl", "ru",
	"uk", "cs", "sk", "hr", "sl", "bg", "ro", "hu", "el", "lt",
	"lv", "et", "fi", "sv", "da", "no", "is",
}

// supportedLanguagesFor возвращает языки, поддерживаемые версией модели.
func supportedLanguagesFor(version FluidModelVersion) []string {
	if version == FluidModelV2 {
		return []string{"en"}
	}
	return parakeetV3Languages
}

// NewFluidASREngine создаёт новый движок транскрипции на базе FluidAudio
func NewFluidASREngine(config FluidASRConfig) (*FluidASREngine, error) {
	binaryPath := config.BinaryPath
	if binaryPath == "" {
		binaryPath = getFluidASRBinaryPath()
	}

	if binaryPath == "" {
		return nil, fmt.Errorf("transcription-fluid binary not found. Build it with: cd backend/audio/transcription && swift build -c release")
	}

	if _, err := os.Stat(binaryPath); err != nil {
		return nil, fmt.Errorf("transcription-fluid binary not found at %s", binaryPath)
	}

	// Устанавливаем версию модели по умолчанию
	modelVersion := config.ModelVersion
	if modelVersion == "" {
		modelVersion = FluidModelV3 // По умолчанию multilingual
	}

	log.Printf("FluidASREngine: using binary at %s, model version %s", binaryPath, modelVersion)

	// Устанавливаем pause threshold по умолчанию
	pauseThreshold := config.PauseThreshold
	if pauseThreshold <= 0 {
		pauseThreshold = 0.5 // 500ms по умолчанию
	}

	return &FluidASREngine{
		binaryPath:     binaryPath,
		modelCacheDir:  config.ModelCacheDir,
		pauseThreshold: pauseThreshold,
		modelVersion:   modelVersion,
		language:       "multi", // По умолчанию автоопределение
		initialized:    true,
		supportedLangs: supportedLanguagesFor(modelVersion),
	}, nil
}

// Name возвращает имя движка
func (e *FluidASREngine) Name() string {
	return "fluid-asr"
}

// SupportedLanguages возвращает список поддерживаемых языков
func (e *FluidASREngine) SupportedLanguages() []string {
	return e.supportedLangs
}

// SetPauseThreshold устанавливает порог паузы для сегментации (в секундах)
// Меньшие значения (0.3) создают больше сегментов, большие (1.0+) - меньше
func (e *FluidASREngine) SetPauseThreshold(threshold float64) {
	if threshold > 0 {
		e.pauseThreshold = threshold
		log.Printf("FluidASREngine: pause threshold set to %.2fs", threshold)
	}
}

// GetPauseThreshold возвращает текущий порог паузы
func (e *FluidASREngine) GetPauseThreshold() float64 {
	return e.pauseThreshold
}

// Transcribe транскрибирует аудио и возвращает текст
func (e *FluidASREngine) Transcribe(samples []float32, useContext bool) (string, error) {
	segments, err := e.TranscribeWithSegments(samples)
	if err != nil {
		return "", err
	}

	var result string
	for _, seg := range segments {
		if seg.Text != "" {
			if result != "" {
				result += " "
			}
			result += seg.Text
		}
	}
	return result, nil
}

// TranscribeWithSegments возвращает сегменты с таймстемпами
// MinSamplesForFluidASR минимальное количество samples для FluidASR (Parakeet)
// Parakeet TDT требует минимум 1 секунду аудио (16000 samples при 16kHz)
const MinSamplesForFluidASR = 16000

func (e *FluidASREngine) TranscribeWithSegments(samples []float32) ([]TranscriptSegment, error) {
	// Не используем mutex здесь - subprocess изолирован, можем запускать параллельно
	if !e.initialized {
		return nil, fmt.Errorf("FluidASREngine not initialized")
	}

	if len(samples) == 0 {
		log.Printf("FluidASREngine: WARNING - received 0 samples, returning empty result")
		return []TranscriptSegment{}, nil
	}

	log.Printf("FluidASREngine: TranscribeWithSegments called with %d samples (%.2fs)",
		len(samples), float64(len(samples))/16000.0)

	// Parakeet TDT требует минимум 1 секунду аудио
	if len(samples) < MinSamplesForFluidASR {
		log.Printf("FluidASREngine: WARNING - audio too short (%d samples = %.2fs), minimum 1 second required. Returning empty result.",
			len(samples), float64(len(samples))/16000.0)
		return []TranscriptSegment{}, nil // Возвращаем пустой массив вместо nil
	}

	startTime := time.Now()

	// Запускаем subprocess с режимом --samples (читает из stdin)
	args := []string{"--samples"}
	if e.modelCacheDir != "" {
		args = append(args, "--model-cache-dir", e.modelCacheDir)
	}
	if e.pauseThreshold > 0 {
		args = append(args, "--pause-threshold", fmt.Sprintf("%.3f", e.pauseThreshold))
	}
	if e.modelVersion != "" {
		args = append(args, "--model", string(e.modelVersion))
	}

	cmd := exec.Command(e.binaryPath, args...)

	// Подготавливаем stdin с бинарными float32 данными
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}

	// Буфер для stdout
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Запускаем процесс
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start transcription-fluid: %w", err)
	}

	stdin.Write(samplesToPCMBytes(samples))
	stdin.Close()

	// Ждём завершения процесса
	if err := cmd.Wait(); err != nil {
		// Логируем stderr если есть
		if stderr.Len() > 0 {
			log.Printf("FluidASREngine stderr: %s", stderr.String())
		}
		return nil, fmt.Errorf("transcription-fluid failed: %w", err)
	}

	// Парсим JSON результат
	var result fluidTranscriptionResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse transcription result: %w (output: %s)", err, stdout.String())
	}

	if result.Error != "" {
		return nil, fmt.Errorf("transcription error: %s", result.Error)
	}

	segments, unkCount := convertFluidSegments(result.Segments)
	if unkCount > 0 {
		log.Printf("FluidASREngine: filtered %d <unk> tokens", unkCount)
	}

	elapsed := time.Since(startTime)
	log.Printf("FluidASREngine: processed %.1fs audio in %.2fs (%.1fx RTF), found %d segments, language=%s",
		float64(len(samples))/16000.0, elapsed.Seconds(),
		float64(len(samples))/16000.0/elapsed.Seconds(),
		len(segments), result.Language)

	return segments, nil
}

// unkTokens - токены "неизвестное слово", которые Parakeet иногда выдаёт
// вместо распознанного слова; они вычищаются из результата, а не
// показываются пользователю как текст.
var unkTokens = map[string]bool{"<unk>": true, "[unk]": true}

// secToMs переводит секунды (как их отдаёт transcription-fluid) в
// миллисекунды, в которых работает остальной пайплайн.
func secToMs(sec float64) int64 {
	return int64(sec * 1000)
}

// convertFluidSegments конвертирует JSON-ответ transcription-fluid в
// TranscriptSegment/TranscriptWord, вычищая <unk>-токены на уровне слов и
// пересобирая текст сегмента из отфильтрованных слов, когда это нужно.
// Возвращает сконвертированные сегменты и число отфильтрованных токенов.
func convertFluidSegments(segs []fluidTranscriptSegment) ([]TranscriptSegment, int) {
	result := make([]TranscriptSegment, 0, len(segs))
	unkCount := 0

	for _, seg := range segs {
		words, filteredText, segUnk := convertFluidWords(seg.Words)
		unkCount += segUnk

		segText := seg.Text
		if strings.Contains(segText, "<unk>") {
			if len(filteredText) > 0 {
				segText = strings.Join(filteredText, " ")
			} else {
				segText = strings.TrimSpace(strings.ReplaceAll(segText, "<unk>", ""))
			}
		}

		if segText == "" && len(words) == 0 {
			continue
		}

		result = append(result, TranscriptSegment{
			Start: secToMs(seg.Start),
			End:   secToMs(seg.End),
			Text:  segText,
			Words: words,
		})
	}

	return result, unkCount
}

// convertFluidWords конвертирует word-level timestamps, отбрасывая
// <unk>-токены. filteredText - текст оставшихся слов, использующийся чтобы
// пересобрать текст сегмента без <unk>-вставок.
func convertFluidWords(words []fluidTranscriptWord) ([]TranscriptWord, []string, int) {
	if len(words) == 0 {
		return nil, nil, 0
	}

	result := make([]TranscriptWord, 0, len(words))
	var filteredText []string
	unkCount := 0

	for _, w := range words {
		if unkTokens[w.Text] {
			unkCount++
			continue
		}
		var confidence float32
		if w.Confidence != nil {
			confidence = *w.Confidence
		}
		result = append(result, TranscriptWord{
			Start: secToMs(w.Start),
			End:   secToMs(w.End),
			Text:  w.Text,
			P:     confidence,
		})
		filteredText = append(filteredText, w.Text)
	}

	return result, filteredText, unkCount
}

// TranscribeHighQuality выполняет высококачественную транскрипцию
// Для FluidAudio используем тот же метод, т.к. Parakeet TDT v3 уже высококачественная модель
func (e *FluidASREngine) TranscribeHighQuality(samples []float32) ([]TranscriptSegment, error) {
	return e.TranscribeWithSegments(samples)
}

// SetLanguage устанавливает язык распознавания
// Примечание: Parakeet TDT v3 автоматически определяет язык, но мы сохраняем для совместимости
func (e *FluidASREngine) SetLanguage(lang string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.language = lang
	log.Printf("FluidASREngine: language set to %s (note: Parakeet v3 auto-detects language)", lang)
}

// SetHotwords устанавливает словарь подсказок
// Parakeet TDT не поддерживает hotwords на уровне модели, но они используются для пост-обработки
func (e *FluidASREngine) SetHotwords(words []string) {
	// Parakeet TDT (CTC/TDT модель) не поддерживает промпты
	// Hotwords применяются на уровне гибридной транскрипции как пост-обработка
	if len(words) > 0 {
		log.Printf("FluidASREngine: hotwords will be applied as post-processing: %v", words)
	}
}

// SetModel переключает модель
// Для FluidAudio поддерживаются версии v2 (English) и v3 (Multilingual)
func (e *FluidASREngine) SetModel(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Проверяем, является ли path версией модели
	switch path {
	case "v2", "parakeet-v2":
		e.modelVersion = FluidModelV2
		e.supportedLangs = supportedLanguagesFor(FluidModelV2)
		log.Printf("FluidASREngine: switched to Parakeet TDT v2 (English-only)")
	case "v3", "parakeet-v3", "":
		e.modelVersion = FluidModelV3
		e.supportedLangs = supportedLanguagesFor(FluidModelV3)
		log.Printf("FluidASREngine: switched to Parakeet TDT v3 (Multilingual)")
	default:
		log.Printf("FluidASREngine: unknown model %s, keeping current version %s", path, e.modelVersion)
	}
	return nil
}

// SetModelVersion устанавливает версию модели напрямую
func (e *FluidASREngine) SetModelVersion(version FluidModelVersion) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modelVersion = version
	e.supportedLangs = supportedLanguagesFor(version)
	log.Printf("FluidASREngine: model version set to %s", version)
}

// Close помечает движок как неинициализированный (последующие вызовы
// TranscribeWithSegments вернут ошибку); освобождать нечего, subprocess уже завершён
func (e *FluidASREngine) Close() {
	e.initialized = false
}
