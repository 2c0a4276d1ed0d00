package pipeline

// Observer receives progress events from a run. Calls may come from several
// goroutines at once.
type Observer interface {
	RunStage(stage Stage)
	Documents(total int)
	DocumentStage(documentID string, stage Stage)
	Chunks(documentID string, total int)
	ChunkDone(documentID string)
	DocumentDone(res DocumentResult)
}

type nopObserver struct{}

func (nopObserver) RunStage(Stage) {}
func (nopObserver) Documents(int) {}
func (nopObserver) DocumentStage(string, Stage) {}
func (nopObserver) Chunks(string, int) {}
func (nopObserver) ChunkDone(string) {}
func (nopObserver) DocumentDone(DocumentResult) {}
