package ai

import (
	"fmt"
	"log"
	"math"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// minEncodableSeconds - минимальная длительность аудио, которую энкодер
// соглашается обработать; короче - эмбеддинг недостоверен.
const minEncodableSeconds = 0.1

// embeddingNormEpsilon - ниже этого порога L2-норма эмбеддинга считается
// вырожденной (тишина/NaN на выходе сети), и нормализация пропускается.
const embeddingNormEpsilon = 1e-6

// SpeakerEncoderConfig конфигурация для энкодера голоса
type SpeakerEncoderConfig struct {
	ModelPath  string
	SampleRate int
	NMels      int
	HopLength  int
	WinLength  int
	NFFT       int
}

// DefaultSpeakerEncoderConfig возвращает стандартную конфигурацию для WeSpeaker ResNet34
func DefaultSpeakerEncoderConfig(modelPath string) SpeakerEncoderConfig {
	return SpeakerEncoderConfig{
		ModelPath:  modelPath,
		SampleRate: 16000,
		NMels:      80,  // WeSpeaker использует 80 mels
		HopLength:  160, // 10ms
		WinLength:  400, // 25ms
		NFFT:       512, // Обычно 512 для 80 mels
	}
}

// melConfigFor строит MelConfig под параметры энкодера.
func melConfigFor(config SpeakerEncoderConfig) MelConfig {
	return MelConfig{
		SampleRate: config.SampleRate,
		NMels:      config.NMels,
		HopLength:  config.HopLength,
		WinLength:  config.WinLength,
		NFFT:       config.NFFT,
	}
}

// SpeakerEncoder преобразует аудио в вектор (embedding)
type SpeakerEncoder struct {
	config       SpeakerEncoderConfig
	session      *ort.DynamicAdvancedSession
	melProcessor *MelProcessor
	mu           sync.Mutex
	initialized  bool
}

// NewSpeakerEncoder создаёт новый энкодер
func NewSpeakerEncoder(config SpeakerEncoderConfig) (*SpeakerEncoder, error) {
	if _, err := os.Stat(config.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", config.ModelPath)
	}

	encoder := &SpeakerEncoder{
		config:       config,
		melProcessor: NewMelProcessor(melConfigFor(config)),
	}

	// Инициализируем ONNX Runtime
	if err := initONNXRuntime(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	// Загружаем модель
	if err := encoder.loadModel(); err != nil {
		return nil, err
	}

	return encoder, nil
}

func (e *SpeakerEncoder) loadModel() error {
	inputInfo, outputInfo, err := ort.GetInputOutputInfo(e.config.ModelPath)
	if err != nil {
		return fmt.Errorf("failed to get model info: %w", err)
	}

	inputNames := make([]string, len(inputInfo))
	for i, info := range inputInfo {
		inputNames[i] = info.Name
	}
	outputNames := make([]string, len(outputInfo))
	for i, info := range outputInfo {
		outputNames[i] = info.Name
	}

	log.Printf("SpeakerEncoder inputs: %v, outputs: %v", inputNames, outputNames)

	options, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	// CPU-исполнение: модель WeSpeaker небольшая, CoreML/CUDA тут не нужны.
	session, err := ort.NewDynamicAdvancedSession(
		e.config.ModelPath,
		inputNames,
		outputNames,
		options,
	)
	if err != nil {
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}

	e.session = session
	e.initialized = true
	return nil
}

// Encode извлекает вектор (embedding) из аудио
func (e *SpeakerEncoder) Encode(samples []float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, fmt.Errorf("encoder not initialized")
	}

	if len(samples) < int(float64(e.config.SampleRate)*minEncodableSeconds) {
		return nil, fmt.Errorf("audio too short")
	}

	melSpec, numFrames := e.melProcessor.Compute(samples)

	inputTensor, err := buildEncoderInputTensor(melSpec, numFrames, e.config.NMels)
	if err != nil {
		return nil, err
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	outputTensor := outputs[0].(*ort.Tensor[float32])
	normalized := normalizeVector(outputTensor.GetData())

	// Копируем: outputTensor уничтожается вместе с deferred Destroy выше.
	result := make([]float32, len(normalized))
	copy(result, normalized)
	return result, nil
}

// buildEncoderInputTensor упаковывает log-mel фреймы в тензор [1, numFrames,
// nMels] (row-major), который WeSpeaker ONNX export ожидает на входе.
func buildEncoderInputTensor(melSpec [][]float32, numFrames, nMels int) (*ort.Tensor[float32], error) {
	flat := make([]float32, numFrames*nMels)
	for t := 0; t < numFrames; t++ {
		copy(flat[t*nMels:(t+1)*nMels], melSpec[t])
	}

	shape := ort.NewShape(1, int64(numFrames), int64(nMels))
	tensor, err := ort.NewTensor(shape, flat)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	return tensor, nil
}

// normalizeVector приводит эмбеддинг к единичной L2-норме; вырожденный
// (почти нулевой) вектор возвращается без изменений.
func normalizeVector(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sumSq))
	if norm < embeddingNormEpsilon {
		return v
	}

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func (e *SpeakerEncoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	e.initialized = false
}
