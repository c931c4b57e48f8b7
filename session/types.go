package session

import (
	"sync"
	"time"
)

// SessionStatus представляет состояние сессии
type SessionStatus string

const (
	SessionStatusRecording SessionStatus = "recording"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// ChunkStatus представляет состояние чанка
type ChunkStatus string

const (
	ChunkStatusPending      ChunkStatus = "pending"
	ChunkStatusTranscribing ChunkStatus = "transcribing"
	ChunkStatusCompleted    ChunkStatus = "completed"
	ChunkStatusFailed       ChunkStatus = "failed"
)

// Session представляет сессию записи
type Session struct {
	ID            string        `json:"id"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       *time.Time    `json:"endTime,omitempty"`
	Status        SessionStatus `json:"status"`
	Language      string        `json:"language"`
	Model         string        `json:"model"`
	DataDir       string        `json:"dataDir"`
	TotalDuration time.Duration `json:"totalDuration"`
	SampleCount   int64         `json:"sampleCount"`
	Title         string        `json:"title,omitempty"`
	Tags          []string      `json:"tags,omitempty"`
	Summary       string        `json:"summary,omitempty"` // AI-generated summary

	Chunks []*Chunk `json:"chunks"`

	mu sync.RWMutex `json:"-"`
}

// TranscriptWord слово с точными таймстемпами
type TranscriptWord struct {
	Start   int64   `json:"start"`   // Начало в миллисекундах
	End     int64   `json:"end"`     // Конец в миллисекундах
	Text    string  `json:"text"`    // Текст слова
	P       float32 `json:"p"`       // Вероятность (confidence)
	Speaker string  `json:"speaker"` // "mic"/"sys" или метка спикера ("Вы", "Собеседник N", имя)
}

// TranscriptSegment сегмент транскрипции с таймстемпами
type TranscriptSegment struct {
	Start   int64            `json:"start"`           // Начало в миллисекундах относительно начала чанка
	End     int64            `json:"end"`             // Конец в миллисекундах
	Text    string           `json:"text"`            // Текст сегмента
	Speaker string           `json:"speaker"`         // "mic"/"sys" или метка спикера ("Вы", "Собеседник N", имя)
	Words   []TranscriptWord `json:"words,omitempty"` // Слова с точными timestamps (word-level)
}

// Chunk представляет фрагмент аудио для распознавания
type Chunk struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionId"`
	Index     int         `json:"index"`
	Status    ChunkStatus `json:"status"`

	// Таймстемпы в миллисекундах (относительно начала записи)
	StartMs  int64         `json:"startMs"`
	EndMs    int64         `json:"endMs"`
	Duration time.Duration `json:"duration"`

	// Флаг стерео режима (Voice Isolation): раздельная транскрипция mic/sys
	IsStereo bool `json:"isStereo,omitempty"`

	// Deprecated: используйте StartMs/EndMs и извлечение из MP3
	StartOffset int64  `json:"startOffset,omitempty"`
	EndOffset   int64  `json:"endOffset,omitempty"`
	FilePath    string `json:"filePath,omitempty"`
	MicFilePath string `json:"micFilePath,omitempty"`
	SysFilePath string `json:"sysFilePath,omitempty"`

	// Транскрипция
	Transcription string `json:"transcription,omitempty"`
	MicText       string `json:"micText,omitempty"` // Транскрипция микрофона (Вы)
	SysText       string `json:"sysText,omitempty"` // Транскрипция системного звука (Собеседник)

	// Сегменты с таймстемпами для диалога
	MicSegments []TranscriptSegment `json:"micSegments,omitempty"`
	SysSegments []TranscriptSegment `json:"sysSegments,omitempty"`
	Dialogue    []TranscriptSegment `json:"dialogue,omitempty"`

	CreatedAt     time.Time  `json:"createdAt"`
	TranscribedAt *time.Time `json:"transcribedAt,omitempty"`
	Error         string     `json:"error,omitempty"`

	ProcessingStartTime *time.Time `json:"-"`
	ProcessingTime      int64      `json:"processingTimeMs,omitempty"`
}

// SessionConfig конфигурация для создания сессии
type SessionConfig struct {
	Language      string
	Model         string
	MicDevice     string
	SystemDevice  string
	CaptureSystem bool
	UseNative     bool

	// DisableVAD отключает VAD-нарезку (auto) в пользу фиксированного
	// интервала (см. FixedIntervalConfig) — используется, когда источник
	// непригоден для детектора пауз (например, системный звук без VAD-модели).
	DisableVAD bool
}

// ChunkMode режим нарезки чанков буфером (см. ChunkBuffer)
type ChunkMode string

const (
	// ChunkModeAuto - нарезка по паузам в речи (VAD-driven)
	ChunkModeAuto ChunkMode = "auto"
	// ChunkModeOff - нарезка фиксированными интервалами
	ChunkModeOff ChunkMode = "off"
)

// VADConfig конфигурация нарезки на чанки (и порог RMS для простого VAD)
type VADConfig struct {
	Mode ChunkMode // auto = по паузам, off = фиксированный интервал

	SilenceThreshold   float64       // RMS порог тишины для 100ms окна (default: 0.02)
	SilenceDuration    time.Duration // Минимальная пауза для разделения (default: 1s)
	MinChunkDuration   time.Duration // Минимальная длина чанка (fixed-длина в off режиме)
	MaxChunkDuration   time.Duration // Максимальная длина чанка (принудительный сплит)
	PreRollDuration    time.Duration // Буфер до начала речи (default: 500ms)
	ChunkingStartDelay time.Duration // Задержка перед началом нарезки
}

// DefaultVADConfig возвращает конфигурацию нарезки по умолчанию (микрофонный пресет)
func DefaultVADConfig() VADConfig {
	return VADConfig{
		Mode:               ChunkModeAuto,
		SilenceThreshold:   0.02,
		SilenceDuration:    1 * time.Second,
		MinChunkDuration:   30 * time.Second,
		MaxChunkDuration:   300 * time.Second,
		PreRollDuration:    500 * time.Millisecond,
		ChunkingStartDelay: 60 * time.Second,
	}
}

// DefaultSystemAudioVADConfig возвращает пресет нарезки для системного звука:
// короче задержка старта и короче границы чанка, т.к. системный звук обычно
// состоит из более коротких и чётких реплик собеседника.
func DefaultSystemAudioVADConfig() VADConfig {
	cfg := DefaultVADConfig()
	cfg.ChunkingStartDelay = 5 * time.Second
	cfg.MinChunkDuration = 10 * time.Second
	cfg.MaxChunkDuration = 15 * time.Second
	return cfg
}

// FixedIntervalConfig возвращает конфигурацию нарезки фиксированными
// интервалами (ChunkModeOff) — используется, когда VAD-нарезка отключена
// (SessionConfig.DisableVAD). Длина чанка берётся из MinChunkDuration.
func FixedIntervalConfig() VADConfig {
	return VADConfig{
		Mode:               ChunkModeOff,
		SilenceThreshold:   0.02,
		SilenceDuration:    1 * time.Second,
		MinChunkDuration:   30 * time.Second,
		MaxChunkDuration:   30 * time.Second,
		PreRollDuration:    0,
		ChunkingStartDelay: 0,
	}
}

// SampleRate константа частоты дискретизации для записи (48kHz)
const SampleRate = 48000

// ASRSampleRate частота дискретизации, которую ожидают все движки
// транскрипции в системе (GigaAM, FluidASR, whisper.cpp) - 16kHz
const ASRSampleRate = 16000
