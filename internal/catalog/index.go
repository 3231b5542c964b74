package catalog

import (
	"sort"
	"sync"
)

// Index is the in-memory view of which recordings exist and which model
// transcripts are complete for each. It is rebuilt from the directory at
// startup and updated as recordings start and transcriptions finish.
type Index struct {
	mu         sync.RWMutex
	recordings map[string]map[string]struct{}
	pending    map[jobKey]struct{}
}

type jobKey struct {
	recording string
	model     string
}

func NewIndex() *Index {
	return &Index{
		recordings: make(map[string]map[string]struct{}),
		pending:    make(map[jobKey]struct{}),
	}
}

func (x *Index) AddRecording(name string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ensure(name)
}

func (x *Index) RemoveRecording(name string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.recordings, name)
}

func (x *Index) HasRecording(name string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.recordings[name]
	return ok
}

// HasTranscript reports a completed transcript. In-flight jobs do not count.
func (x *Index) HasTranscript(recording, model string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.recordings[recording][model]
	return ok
}

// Claim reserves (recording, model) for one job. It fails when the transcript
// is complete or another job holds the claim.
func (x *Index) Claim(recording, model string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.recordings[recording][model]; ok {
		return false
	}
	key := jobKey{recording, model}
	if _, ok := x.pending[key]; ok {
		return false
	}
	x.pending[key] = struct{}{}
	return true
}

// Complete publishes a claimed job as done.
func (x *Index) Complete(recording, model string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.pending, jobKey{recording, model})
	x.ensure(recording)[model] = struct{}{}
}

// Abandon drops a claim without publishing anything.
func (x *Index) Abandon(recording, model string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.pending, jobKey{recording, model})
}

func (x *Index) pendingJob(recording, model string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.pending[jobKey{recording, model}]
	return ok
}

// markTranscribed records a transcript found on disk.
func (x *Index) markTranscribed(recording, model string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ensure(recording)[model] = struct{}{}
}

func (x *Index) unmarkTranscribed(recording, model string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.recordings[recording], model)
}

func (x *Index) ensure(name string) map[string]struct{} {
	models, ok := x.recordings[name]
	if !ok {
		models = make(map[string]struct{})
		x.recordings[name] = models
	}
	return models
}

func (x *Index) replace(recordings map[string]map[string]struct{}) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.recordings = recordings
}

// names returns recording names, newest first.
func (x *Index) names() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	names := make([]string, 0, len(x.recordings))
	for name := range x.recordings {
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names
}

func (x *Index) transcripts(recording string, order []string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	done := x.recordings[recording]
	out := make([]string, 0, len(done))
	for _, model := range order {
		if _, ok := done[model]; ok {
			out = append(out, model)
		}
	}
	return out
}
