//go:build darwin

package ai

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// Значения по умолчанию для FluidDiarizerConfig, подобранные для
// разговорного двухканального аудио.
const (
	defaultFluidClusteringThreshold = 0.70
	defaultFluidMinSegmentDuration  = 0.2
	defaultFluidVBxMaxIterations    = 30
	defaultFluidMinGapDuration      = 0.15
)

// FluidDiarizer выполняет диаризацию через FluidAudio (Swift/CoreML) в виде
// subprocess-вызова diarization-fluid binary. Процесс создаётся заново на
// каждый вызов вместо держать долгоживущую CoreML-сессию в памяти Go —
// так утечки ресурсов модели ограничены временем жизни одного subprocess.
type FluidDiarizer struct {
	binaryPath          string
	clusteringThreshold float64
	minSegmentDuration  float64
	vbxMaxIterations    int
	minGapDuration      float64
	debug               bool
	mu                  sync.Mutex
	initialized         bool
}

// FluidDiarizerConfig конфигурация для FluidDiarizer
type FluidDiarizerConfig struct {
	BinaryPath string // Путь к diarization-fluid binary (опционально)

	ClusteringThreshold float64 // Порог кластеризации (0.0-1.0), default: 0.70
	MinSegmentDuration  float64 // Мин. длительность сегмента (сек), default: 0.2
	VBxMaxIterations    int     // Макс. итераций VBx, default: 30
	MinGapDuration      float64 // Мин. пауза между сегментами (сек), default: 0.15
	Debug               bool    // Включить отладочный вывод
}

// DefaultFluidDiarizerConfig возвращает оптимальные параметры для разговорного аудио
func DefaultFluidDiarizerConfig() FluidDiarizerConfig {
	return FluidDiarizerConfig{
		ClusteringThreshold: defaultFluidClusteringThreshold,
		MinSegmentDuration:  defaultFluidMinSegmentDuration,
		VBxMaxIterations:    defaultFluidVBxMaxIterations,
		MinGapDuration:      defaultFluidMinGapDuration,
	}
}

// withDefaults заполняет незаданные (<=0) поля конфигурации значениями по умолчанию.
func (c FluidDiarizerConfig) withDefaults() FluidDiarizerConfig {
	if c.ClusteringThreshold <= 0 {
		c.ClusteringThreshold = defaultFluidClusteringThreshold
	}
	if c.MinSegmentDuration <= 0 {
		c.MinSegmentDuration = defaultFluidMinSegmentDuration
	}
	if c.VBxMaxIterations <= 0 {
		c.VBxMaxIterations = defaultFluidVBxMaxIterations
	}
	if c.MinGapDuration <= 0 {
		c.MinGapDuration = defaultFluidMinGapDuration
	}
	return c
}

// fluidDiarizationResult структура JSON ответа от diarization-fluid
type fluidDiarizationResult struct {
	Segments    []fluidSegment `json:"segments"`
	NumSpeakers int            `json:"num_speakers"`
	Error       string         `json:"error,omitempty"`
}

type fluidSegment struct {
	Speaker int     `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// candidateFluidToolPaths перечисляет места, где искать FluidAudio Swift
// subprocess-binary по его имени (diarization-fluid, transcription-fluid):
// рядом с исполняемым файлом, внутри app bundle, и пути для локальной
// разработки под соответствующей Swift-package директорией.
func candidateFluidToolPaths(binaryName, swiftPackageDir string) []string {
	return []string{
		filepath.Join(filepath.Dir(os.Args[0]), binaryName),
		filepath.Join(filepath.Dir(os.Args[0]), "..", "Resources", binaryName),
		"backend/audio/" + swiftPackageDir + "/.build/release/" + binaryName,
		"audio/" + swiftPackageDir + "/.build/release/" + binaryName,
		"/Users/askid/Projects/AIWisper/backend/audio/" + swiftPackageDir + "/.build/release/" + binaryName,
	}
}

// findFluidTool возвращает первый существующий путь из candidateFluidToolPaths,
// или "" если binary нигде не найден.
func findFluidTool(binaryName, swiftPackageDir string) string {
	for _, p := range candidateFluidToolPaths(binaryName, swiftPackageDir) {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// getFluidBinaryPath ищет diarization-fluid binary в нескольких местах
func getFluidBinaryPath() string {
	return findFluidTool("diarization-fluid", "diarization")
}

// NewFluidDiarizer создаёт новый диаризатор на базе FluidAudio
func NewFluidDiarizer(config FluidDiarizerConfig) (*FluidDiarizer, error) {
	binaryPath := config.BinaryPath
	if binaryPath == "" {
		binaryPath = getFluidBinaryPath()
	}
	if binaryPath == "" {
		return nil, fmt.Errorf("diarization-fluid binary not found. Build it with: cd backend/audio/diarization && swift build -c release")
	}
	if _, err := os.Stat(binaryPath); err != nil {
		return nil, fmt.Errorf("diarization-fluid binary not found at %s", binaryPath)
	}

	config = config.withDefaults()
	log.Printf("FluidDiarizer: using binary at %s (threshold=%.2f, minSeg=%.2f, vbxIter=%d)",
		binaryPath, config.ClusteringThreshold, config.MinSegmentDuration, config.VBxMaxIterations)

	return &FluidDiarizer{
		binaryPath:          binaryPath,
		clusteringThreshold: config.ClusteringThreshold,
		minSegmentDuration:  config.MinSegmentDuration,
		vbxMaxIterations:    config.VBxMaxIterations,
		minGapDuration:      config.MinGapDuration,
		debug:               config.Debug,
		initialized:         true,
	}, nil
}

// cliArgs строит общий для --samples и файлового режима хвост аргументов
// командной строки diarization-fluid из текущих настроек диаризатора.
func (d *FluidDiarizer) cliArgs() []string {
	args := []string{
		"--clustering-threshold", fmt.Sprintf("%.2f", d.clusteringThreshold),
		"--min-segment-duration", fmt.Sprintf("%.2f", d.minSegmentDuration),
		"--vbx-max-iterations", fmt.Sprintf("%d", d.vbxMaxIterations),
		"--min-gap-duration", fmt.Sprintf("%.2f", d.minGapDuration),
	}
	if d.debug {
		args = append(args, "--debug")
	}
	return args
}

// runFluidBinary запускает diarization-fluid с заданными аргументами и stdin,
// разбирает JSON-ответ из stdout. stdinData == nil означает "не писать в stdin"
// (файловый режим, где источник аудио передаётся аргументом).
func (d *FluidDiarizer) runFluidBinary(args []string, stdinData []byte) (*fluidDiarizationResult, error) {
	cmd := exec.Command(d.binaryPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if stdinData == nil {
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("diarization-fluid failed: %w (stderr: %s)", err, stderr.String())
		}
	} else {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start diarization-fluid: %w", err)
		}
		stdin.Write(stdinData)
		stdin.Close()
		if err := cmd.Wait(); err != nil {
			if stderr.Len() > 0 {
				log.Printf("FluidDiarizer stderr: %s", stderr.String())
			}
			return nil, fmt.Errorf("diarization-fluid failed: %w", err)
		}
	}

	var result fluidDiarizationResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse diarization result: %w (output: %s)", err, stdout.String())
	}
	if result.Error != "" {
		return nil, fmt.Errorf("diarization error: %s", result.Error)
	}
	return &result, nil
}

// toSpeakerSegments конвертирует JSON-сегменты diarization-fluid в общий
// формат SpeakerSegment, используемый остальным пайплайном.
func toSpeakerSegments(segs []fluidSegment) []SpeakerSegment {
	result := make([]SpeakerSegment, len(segs))
	for i, seg := range segs {
		result[i] = SpeakerSegment{
			Start:   float32(seg.Start),
			End:     float32(seg.End),
			Speaker: seg.Speaker,
		}
	}
	return result
}

// samplesToPCMBytes сериализует float32 сэмплы в little-endian байты — формат,
// который diarization-fluid ожидает на stdin в режиме --samples.
func samplesToPCMBytes(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return buf
}

// Diarize выполняет диаризацию аудио через FluidAudio subprocess.
// samples - аудио данные в формате float32, 16kHz, mono.
func (d *FluidDiarizer) Diarize(samples []float32) ([]SpeakerSegment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil, fmt.Errorf("FluidDiarizer not initialized")
	}
	if len(samples) == 0 {
		return nil, nil
	}

	startTime := time.Now()
	args := append([]string{"--samples"}, d.cliArgs()...)

	result, err := d.runFluidBinary(args, samplesToPCMBytes(samples))
	if err != nil {
		return nil, err
	}

	segments := toSpeakerSegments(result.Segments)
	elapsed := time.Since(startTime)
	log.Printf("FluidDiarizer: processed %.1fs audio in %.2fs, found %d segments from %d speakers",
		float64(len(samples))/16000.0, elapsed.Seconds(), len(segments), result.NumSpeakers)

	return segments, nil
}

// DiarizeFile выполняет диаризацию аудио файла напрямую.
// audioPath - путь к WAV файлу (16kHz mono).
func (d *FluidDiarizer) DiarizeFile(audioPath string) ([]SpeakerSegment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil, fmt.Errorf("FluidDiarizer not initialized")
	}

	startTime := time.Now()
	args := append([]string{audioPath}, d.cliArgs()...)

	result, err := d.runFluidBinary(args, nil)
	if err != nil {
		return nil, err
	}

	segments := toSpeakerSegments(result.Segments)
	elapsed := time.Since(startTime)
	log.Printf("FluidDiarizer: processed file %s in %.2fs, found %d segments from %d speakers",
		filepath.Base(audioPath), elapsed.Seconds(), len(segments), result.NumSpeakers)

	return segments, nil
}

// IsInitialized возвращает true если диаризатор инициализирован
func (d *FluidDiarizer) IsInitialized() bool {
	return d.initialized
}

// Close помечает диаризатор как неинициализированный (последующие вызовы
// Diarize/DiarizeFile вернут ошибку); освобождать нечего, subprocess уже завершён
func (d *FluidDiarizer) Close() {
	d.initialized = false
}
