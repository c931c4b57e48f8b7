// Простой тест записи с микрофона через основной пакет audio/session,
// чтобы сразу проверять тот же путь захвата и WAV-записи, что и основное приложение.
// Запуск: go run ./cmd/testmic
// Остановка: Ctrl+C

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
	micSampleRate = 48000 // частота захвата с микрофона до ресемплинга под ASR
	outputFile    = "test_mic.wav"
)

func main() {
	log.Println("=== Тест записи с микрофона ===")
	log.Printf("Выходной файл: %s", outputFile)
	log.Println("Нажмите Ctrl+C для остановки...")

	capture, err := audio.NewCapture()
	if err != nil {
		log.Fatalf("Ошибка инициализации захвата: %v", err)
	}
	defer capture.Close()

	wavWriter, err := session.NewWAVWriter(outputFile, micSampleRate, 1, 16)
	if err != nil {
		log.Fatalf("Ошибка создания WAV файла: %v", err)
	}

	if err := capture.Start(0); err != nil {
		log.Fatalf("Ошибка запуска захвата: %v", err)
	}
	log.Println("Запись началась...")

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	startTime := time.Now()
	quit := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

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
					log.Printf("Ошибка записи WAV: %v", err)
				}

			case <-ticker.C:
				written := wavWriter.SamplesWritten()
				elapsed := time.Since(startTime)
				expected := int64(elapsed.Seconds()) * micSampleRate
				var ratio float64
				if expected > 0 {
					ratio = float64(written) / float64(expected) * 100
				}
				log.Printf("Записано: %.1f сек, %d семплов (%.1f%% от ожидаемого)",
					elapsed.Seconds(), written, ratio)

			case <-quit:
				return
			}
		}
	}()

	<-stopChan
	log.Println("\nОстановка записи...")
	capture.Stop()
	close(quit)
	<-done

	if err := wavWriter.Close(); err != nil {
		log.Printf("Ошибка закрытия WAV файла: %v", err)
	}

	duration := time.Duration(float64(wavWriter.SamplesWritten())/float64(micSampleRate)) * time.Second
	log.Printf("Готово! Записано %.1f секунд (%d семплов)", duration.Seconds(), wavWriter.SamplesWritten())
	log.Printf("Файл: %s", outputFile)
}
