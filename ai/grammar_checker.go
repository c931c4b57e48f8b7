// Package ai предоставляет grammar checker для проверки корректности слов
package ai

import (
	"bufio"
	"embed"
	"log"
	"strings"
	"sync"
)

//go:embed dictionaries/*.txt
var dictionariesFS embed.FS

const (
	russianDictionaryPath = "dictionaries/russian_words.txt"
	englishDictionaryPath = "dictionaries/english_words.txt"
)

// dictionaryLang - язык словаря, против которого проверяется слово.
type dictionaryLang string

const (
	langRussian dictionaryLang = "ru"
	langEnglish dictionaryLang = "en"
	langAuto    dictionaryLang = ""
)

// wordTrimCutset - знаки пунктуации, отбрасываемые с краёв слова перед
// проверкой по словарю.
const wordTrimCutset = ".,!?;:\"'()-–—"

// SimpleGrammarChecker - словарная реализация GrammarChecker: держит в
// памяти два множества слов (русский/английский), загруженных из вшитых в
// бинарь (embed.FS) текстовых файлов, и умеет пополняться во время работы
// (AddWord/AddWords) голосами, распознанными ASR-движком.
type SimpleGrammarChecker struct {
	mu          sync.RWMutex
	dictionary  map[dictionaryLang]map[string]bool
	initialized bool
}

// NewSimpleGrammarChecker создаёт и сразу инициализирует чекер словарями.
func NewSimpleGrammarChecker() *SimpleGrammarChecker {
	c := &SimpleGrammarChecker{
		dictionary: map[dictionaryLang]map[string]bool{
			langRussian: make(map[string]bool),
			langEnglish: make(map[string]bool),
		},
	}
	c.loadDictionaries()
	return c
}

// loadDictionaries читает оба встроенных словаря; повторный вызов - no-op.
func (c *SimpleGrammarChecker) loadDictionaries() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return
	}

	ruCount := c.loadDictionary(russianDictionaryPath, c.dictionary[langRussian])
	log.Printf("[GrammarChecker] Loaded %d Russian words", ruCount)

	enCount := c.loadDictionary(englishDictionaryPath, c.dictionary[langEnglish])
	log.Printf("[GrammarChecker] Loaded %d English words", enCount)

	c.initialized = true
}

// loadDictionary парсит один словарный файл построчно, пропуская пустые
// строки и строки-комментарии (начинающиеся с '#'). Возвращает число
// загруженных слов.
func (c *SimpleGrammarChecker) loadDictionary(path string, dst map[string]bool) int {
	data, err := dictionariesFS.ReadFile(path)
	if err != nil {
		log.Printf("[GrammarChecker] Warning: could not load dictionary %s: %v", path, err)
		return 0
	}

	count := 0
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word == "" || strings.HasPrefix(word, "#") {
			continue
		}
		dst[strings.ToLower(word)] = true
		count++
	}
	return count
}

// resolveLang возвращает словарь, с которым проверять слово: явно указанный
// язык либо, при langAuto, определённый по наличию кириллицы в слове.
func (c *SimpleGrammarChecker) resolveLang(lang dictionaryLang, normalizedWord string) dictionaryLang {
	if lang == langRussian || lang == langEnglish {
		return lang
	}
	if containsCyrillic(normalizedWord) {
		return langRussian
	}
	return langEnglish
}

// IsValidWord проверяет слово против словаря. Пустые слова и числа всегда
// считаются валидными, чтобы не шуметь на цифрах/таймкодах и артефактах
// пунктуации в распознанном тексте.
func (c *SimpleGrammarChecker) IsValidWord(word string, lang string) bool {
	normalized := strings.ToLower(strings.Trim(word, wordTrimCutset))
	if normalized == "" || isNumeric(normalized) {
		return true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dictionary[c.resolveLang(dictionaryLang(lang), normalized)][normalized]
}

// AddWord добавляет слово в словарь во время работы (например, имя
// собственное из диаризации или термин, подтверждённый пользователем).
func (c *SimpleGrammarChecker) AddWord(word string, lang string) {
	normalized := strings.ToLower(word)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dictionary[c.resolveLang(dictionaryLang(lang), normalized)][normalized] = true
}

// AddWords добавляет несколько слов разом.
func (c *SimpleGrammarChecker) AddWords(words []string, lang string) {
	for _, word := range words {
		c.AddWord(word, lang)
	}
}

// Close - словари живут в памяти процесса, освобождать нечего.
func (c *SimpleGrammarChecker) Close() error {
	return nil
}

// isNumeric сообщает, состоит ли строка целиком из ASCII-цифр.
func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var _ GrammarChecker = (*SimpleGrammarChecker)(nil)
