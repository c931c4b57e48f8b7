//go:build darwin

// Test: запись с микрофона через ScreenCaptureKit pipe (package audio),
// проверяет тот же путь захвата и WAV-записи, что и основное приложение.
// Запуск: go run ./cmd/testrecord
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aiwisper/audio"
	"aiwisper/session"
)

const (
	captureSampleRate = 48000 // частота, на которой ScreenCaptureKit отдаёт аудио
	recordDuration    = 5 * time.Second
	outputPath        = "/tmp/go_pipe_test.wav"
)

func main() {
	log.Println("=== GO PIPE TEST ===")
	log.Printf("Output: %s", outputPath)
	log.Printf("Recording for %v...", recordDuration)
	log.Println(">>> SPEAK NOW! <<<")

	capture, err := audio.NewCapture()
	if err != nil {
		log.Fatalf("Failed to init capture: %v", err)
	}
	defer capture.Close()

	wavWriter, err := session.NewWAVWriter(outputPath, captureSampleRate, 1, 16)
	if err != nil {
		log.Fatalf("Failed to create WAV: %v", err)
	}

	if err := capture.StartScreenCaptureKitAudioWithMode("mic"); err != nil {
		log.Fatalf("Failed to start ScreenCaptureKit audio: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	quit := make(chan struct{})
	done := make(chan struct{})
	var totalSamples int64

	go func() {
		defer close(done)
		for {
			select {
			case data, ok := <-capture.Data():
				if !ok {
					return
				}
				if data.Channel != audio.ChannelMicrophone {
					continue
				}
				if err := wavWriter.Write(data.Samples); err != nil {
					log.Printf("Error writing WAV: %v", err)
				}
				totalSamples += int64(len(data.Samples))
			case <-quit:
				return
			}
		}
	}()

	select {
	case <-time.After(recordDuration + time.Second):
		log.Println("Timeout reached, stopping...")
	case <-sigChan:
		log.Println("Signal received, stopping...")
	}

	capture.Stop()
	close(quit)
	<-done

	if err := wavWriter.Close(); err != nil {
		log.Printf("Failed to close WAV: %v", err)
	}

	expectedSamples := int64(recordDuration.Seconds()) * captureSampleRate
	log.Printf("Total samples received: %d", totalSamples)
	log.Printf("Expected samples (%v): %d", recordDuration, expectedSamples)
	log.Printf("Ratio: %.2f%%", float64(totalSamples)/float64(expectedSamples)*100)
	log.Println("=== Test Complete ===")
	log.Printf("Check file: %s", outputPath)
	log.Printf("Play with: afplay %s", outputPath)
}
