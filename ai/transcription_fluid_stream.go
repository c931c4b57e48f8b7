// Package ai provides streaming transcription engine using FluidAudio Parakeet TDT v3
package ai

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"time"
)

// streamingBinaryPath - путь к Swift CLI, обслуживающему потоковую
// транскрипцию; собирается отдельно от transcription-fluid (chunk-режим),
// так как держит долгоживущий процесс вместо одного вызова на чанк.
const streamingBinaryPath = "./backend/audio/transcription-stream/transcription-fluid-stream"

// base64SampleThreshold - выше этого числа float32-сэмплов в одном чанке
// StreamAudio переключается на base64-кодирование вместо "сырого" JSON-массива,
// чтобы не раздувать размер команды избыточным числовым представлением.
const base64SampleThreshold = 1000

const (
	initTimeout   = 60 * time.Second // первая загрузка модели может быть долгой
	finishTimeout = 10 * time.Second
)

// StreamingFluidASREngine реализует streaming транскрипцию через FluidAudio
type StreamingFluidASREngine struct {
	config         StreamingFluidASRConfig
	cmd            *exec.Cmd
	stdin          io.WriteCloser
	stdout         io.ReadCloser
	stderr         io.ReadCloser
	scanner        *bufio.Scanner
	mu             sync.Mutex
	isRunning      bool
	updateCallback func(StreamingTranscriptionUpdate)
	errorCallback  func(error)
}

// StreamingFluidASRConfig конфигурация streaming движка
type StreamingFluidASRConfig struct {
	ModelCacheDir         string  // Путь к кэшу моделей
	ChunkSeconds          float64 // Размер чанка в секундах (default: 15.0)
	ConfirmationThreshold float64 // Порог подтверждения (default: 0.85)
}

// StreamingTranscriptionUpdate обновление транскрипции
type StreamingTranscriptionUpdate struct {
	Text         string           // Текст транскрипции
	IsConfirmed  bool             // Подтверждённый (true) или volatile (false)
	Confidence   float32          // Уверенность модели (0.0-1.0)
	Timestamp    time.Time        // Время обновления
	TokenTimings []TranscriptWord // Token-level timestamps
}

// streamCommand команда для Swift CLI
type streamCommand struct {
	Command               string    `json:"command"`
	ModelCacheDir         *string   `json:"model_cache_dir,omitempty"`
	Samples               []float32 `json:"samples,omitempty"`
	SamplesBase64         *string   `json:"samples_base64,omitempty"`
	ChunkSeconds          *float64  `json:"chunk_seconds,omitempty"`
	ConfirmationThreshold *float64  `json:"confirmation_threshold,omitempty"`
}

// streamResponse ответ от Swift CLI
type streamResponse struct {
	Type         string            `json:"type"`
	Text         *string           `json:"text,omitempty"`
	IsConfirmed  *bool             `json:"is_confirmed,omitempty"`
	Confidence   *float32          `json:"confidence,omitempty"`
	Timestamp    *float64          `json:"timestamp,omitempty"`
	Duration     *float64          `json:"duration,omitempty"`
	Message      *string           `json:"message,omitempty"`
	TokenTimings []tokenTimingJSON `json:"token_timings,omitempty"`
}

type tokenTimingJSON struct {
	Token      string  `json:"token"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float32 `json:"confidence"`
}

// NewStreamingFluidASREngine создаёт новый streaming движок
func NewStreamingFluidASREngine(config StreamingFluidASRConfig) (*StreamingFluidASREngine, error) {
	engine := &StreamingFluidASREngine{
		config: config,
	}

	engine.cmd = exec.Command(streamingBinaryPath)

	var err error
	engine.stdin, err = engine.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	engine.stdout, err = engine.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	engine.stderr, err = engine.cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	// Запускаем процесс
	if err := engine.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start subprocess: %w", err)
	}

	engine.scanner = bufio.NewScanner(engine.stdout)
	engine.isRunning = true

	// Запускаем горутину для чтения stderr (логи)
	go engine.readStderr()

	// Запускаем горутину для чтения обновлений
	go engine.readUpdates()

	// Инициализируем
	if err := engine.initialize(); err != nil {
		engine.Close()
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}

	return engine, nil
}

// initialize отправляет команду init и ждёт ready
func (e *StreamingFluidASREngine) initialize() error {
	cmd := streamCommand{
		Command:       "init",
		ModelCacheDir: &e.config.ModelCacheDir,
	}

	if e.config.ChunkSeconds > 0 {
		cmd.ChunkSeconds = &e.config.ChunkSeconds
	}
	if e.config.ConfirmationThreshold > 0 {
		cmd.ConfirmationThreshold = &e.config.ConfirmationThreshold
	}

	if err := e.sendCommand(cmd); err != nil {
		return err
	}

	// Временно глушим обновления, пока ждём только "ready".
	originalCallback := e.updateCallback
	e.updateCallback = func(StreamingTranscriptionUpdate) {}
	defer func() { e.updateCallback = originalCallback }()

	readyChan := make(chan bool, 1)
	go func() {
		for e.isRunning {
			if resp, ok := e.scanNextResponse(); ok && resp.Type == "ready" {
				readyChan <- true
				return
			}
		}
	}()

	select {
	case <-readyChan:
		log.Printf("StreamingFluidASREngine: initialized successfully")
		return nil
	case <-time.After(initTimeout):
		return fmt.Errorf("initialization timeout")
	}
}

// scanNextResponse читает одну строку из stdout subprocess'а. ok=false
// только когда сам scanner исчерпан (процесс закрыл stdout); строка,
// которая не распарсилась как JSON, возвращается как нулевой streamResponse
// с ok=true, чтобы вызывающий цикл мог просто пропустить её и сканировать
// дальше.
func (e *StreamingFluidASREngine) scanNextResponse() (streamResponse, bool) {
	if !e.scanner.Scan() {
		return streamResponse{}, false
	}
	var resp streamResponse
	_ = json.Unmarshal(e.scanner.Bytes(), &resp)
	return resp, true
}

// StreamAudio отправляет аудио чанк для обработки
func (e *StreamingFluidASREngine) StreamAudio(samples []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isRunning {
		return fmt.Errorf("engine not running")
	}

	// Для больших чанков используем base64
	useBase64 := len(samples) > base64SampleThreshold

	cmd := streamCommand{
		Command: "stream",
	}

	if useBase64 {
		// Конвертируем в base64
		buf := new(bytes.Buffer)
		binary.Write(buf, binary.LittleEndian, samples)
		encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
		cmd.SamplesBase64 = &encoded
	} else {
		cmd.Samples = samples
	}

	return e.sendCommand(cmd)
}

// Finish завершает streaming и возвращает финальный текст
func (e *StreamingFluidASREngine) Finish() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isRunning {
		return "", fmt.Errorf("engine not running")
	}

	cmd := streamCommand{
		Command: "finish",
	}

	if err := e.sendCommand(cmd); err != nil {
		return "", err
	}

	finalChan := make(chan string, 1)
	errorChan := make(chan error, 1)

	go func() {
		for {
			resp, ok := e.scanNextResponse()
			if !ok {
				return
			}
			switch {
			case resp.Type == "final" && resp.Text != nil:
				finalChan <- *resp.Text
				return
			case resp.Type == "error" && resp.Message != nil:
				errorChan <- fmt.Errorf(*resp.Message)
				return
			}
		}
	}()

	select {
	case text := <-finalChan:
		return text, nil
	case err := <-errorChan:
		return "", err
	case <-time.After(finishTimeout):
		return "", fmt.Errorf("finish timeout")
	}
}

// Reset сбрасывает состояние для новой сессии
func (e *StreamingFluidASREngine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isRunning {
		return fmt.Errorf("engine not running")
	}

	cmd := streamCommand{
		Command: "reset",
	}

	return e.sendCommand(cmd)
}

// SetUpdateCallback устанавливает callback для обновлений
func (e *StreamingFluidASREngine) SetUpdateCallback(callback func(StreamingTranscriptionUpdate)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updateCallback = callback
}

// SetErrorCallback устанавливает callback для ошибок
func (e *StreamingFluidASREngine) SetErrorCallback(callback func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errorCallback = callback
}

// Close закрывает движок и освобождает ресурсы
func (e *StreamingFluidASREngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isRunning {
		return nil
	}

	e.isRunning = false

	// Отправляем exit
	cmd := streamCommand{
		Command: "exit",
	}
	e.sendCommand(cmd)

	// Закрываем stdin
	if e.stdin != nil {
		e.stdin.Close()
	}

	// Ждём завершения процесса
	if e.cmd != nil && e.cmd.Process != nil {
		e.cmd.Wait()
	}

	log.Printf("StreamingFluidASREngine: closed")
	return nil
}

// sendCommand отправляет команду в subprocess
func (e *StreamingFluidASREngine) sendCommand(cmd streamCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	_, err = e.stdin.Write(append(data, '\n'))
	if err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}

	return nil
}

// readUpdates читает обновления из stdout в фоновой горутине на протяжении
// всей жизни subprocess'а, раздавая "update"/"error" события через
// зарегистрированные callback'и. "ready"/"final" разбираются отдельно в
// initialize/Finish, которые временно читают тот же scanner сами.
func (e *StreamingFluidASREngine) readUpdates() {
	for e.isRunning {
		resp, ok := e.scanNextResponse()
		if !ok {
			break
		}

		switch resp.Type {
		case "update":
			e.dispatchUpdate(resp)
		case "error":
			e.dispatchError(resp)
		case "ready", "final":
			// Обрабатываются отдельно в initialize/Finish
		default:
			log.Printf("StreamingFluidASREngine: unknown response type: %s", resp.Type)
		}
	}

	if err := e.scanner.Err(); err != nil {
		log.Printf("StreamingFluidASREngine: scanner error: %v", err)
	}
}

// dispatchUpdate конвертирует частичный streamResponse в
// StreamingTranscriptionUpdate и вызывает updateCallback, если все
// обязательные поля пришли.
func (e *StreamingFluidASREngine) dispatchUpdate(resp streamResponse) {
	if resp.Text == nil || resp.IsConfirmed == nil || resp.Confidence == nil || resp.Timestamp == nil {
		return
	}

	update := StreamingTranscriptionUpdate{
		Text:        *resp.Text,
		IsConfirmed: *resp.IsConfirmed,
		Confidence:  *resp.Confidence,
		Timestamp:   time.Unix(int64(*resp.Timestamp), 0),
	}
	if len(resp.TokenTimings) > 0 {
		update.TokenTimings = make([]TranscriptWord, len(resp.TokenTimings))
		for i, tt := range resp.TokenTimings {
			update.TokenTimings[i] = TranscriptWord{
				Text:  tt.Token,
				Start: secToMs(tt.Start),
				End:   secToMs(tt.End),
				P:     tt.Confidence,
			}
		}
	}

	if e.updateCallback != nil {
		e.updateCallback(update)
	}
}

// dispatchError сообщает errorCallback об ошибке, полученной от subprocess'а.
func (e *StreamingFluidASREngine) dispatchError(resp streamResponse) {
	if resp.Message == nil {
		return
	}
	err := fmt.Errorf("streaming error: %s", *resp.Message)
	log.Printf("StreamingFluidASREngine: %v", err)
	if e.errorCallback != nil {
		e.errorCallback(err)
	}
}

// readStderr читает stderr (логи) из subprocess
func (e *StreamingFluidASREngine) readStderr() {
	scanner := bufio.NewScanner(e.stderr)
	for scanner.Scan() {
		log.Printf("[transcription-fluid-stream] %s", scanner.Text())
	}
}
