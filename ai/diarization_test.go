package ai

import "testing"

func TestClusterEmbeddings_TwoDistinctGroups(t *testing.T) {
	embeddings := [][]float32{
		{1, 0, 0},
		{0.99, 0.01, 0},
		{0, 1, 0},
		{0, 0.98, 0.02},
	}

	clusters := clusterEmbeddings(embeddings, 0.1)
	if clusters[0] != clusters[1] {
		t.Errorf("expected samples 0 and 1 in the same cluster, got %v and %v", clusters[0], clusters[1])
	}
	if clusters[2] != clusters[3] {
		t.Errorf("expected samples 2 and 3 in the same cluster, got %v and %v", clusters[2], clusters[3])
	}
	if clusters[0] == clusters[2] {
		t.Errorf("expected two distinct clusters, got a single one: %v", clusters)
	}
}

func TestClusterEmbeddings_Empty(t *testing.T) {
	if got := clusterEmbeddings(nil, 0.5); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
}

func TestCosineDistance(t *testing.T) {
	identical := cosineDistance([]float32{1, 0, 0}, []float32{1, 0, 0})
	if identical > 0.001 {
		t.Errorf("identical vectors should have ~0 distance, got %v", identical)
	}

	orthogonal := cosineDistance([]float32{1, 0, 0}, []float32{0, 1, 0})
	if orthogonal < 0.99 || orthogonal > 1.01 {
		t.Errorf("orthogonal vectors should have distance ~1, got %v", orthogonal)
	}

	if d := cosineDistance([]float32{}, []float32{}); d != 1.0 {
		t.Errorf("zero-norm vectors should fall back to distance 1.0, got %v", d)
	}
}

func TestSliceSegmentAudio(t *testing.T) {
	samples := make([]float32, 32000) // 2s @ 16kHz

	seg := TranscriptSegment{Start: 0, End: 500} // 0-0.5s
	got := sliceSegmentAudio(seg, samples)
	if len(got) != 500*samplesPerMs {
		t.Errorf("expected %d samples, got %d", 500*samplesPerMs, len(got))
	}

	// Границы за пределами буфера должны клампиться, а не паниковать.
	outOfRange := TranscriptSegment{Start: 1900, End: 3000}
	got = sliceSegmentAudio(outOfRange, samples)
	if len(got) != len(samples)-1900*samplesPerMs {
		t.Errorf("expected clamp to buffer end, got %d samples", len(got))
	}

	degenerate := TranscriptSegment{Start: 1000, End: 500}
	if got := sliceSegmentAudio(degenerate, samples); got != nil {
		t.Errorf("expected nil for degenerate range, got %d samples", len(got))
	}
}

func TestDiarize_SingleSpeakerShortcut(t *testing.T) {
	d := &Diarizer{encoder: nil}
	segments := []TranscriptSegment{{Start: 0, End: 50, Text: "too short for embedding"}}

	result, err := d.Diarize(segments, make([]float32, 16000))
	if err != nil {
		t.Fatalf("Diarize returned error: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(result))
	}
	if result[0].Speaker != "" {
		t.Errorf("segment too short to embed should stay unlabeled, got %q", result[0].Speaker)
	}
}
