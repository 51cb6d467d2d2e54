package campaign

import "testing"

func TestMarkProcessedNoDuplicates(t *testing.T) {
	st := newState("c1")
	if !st.markProcessed(3) {
		t.Fatal("first mark should report a change")
	}
	if st.markProcessed(3) {
		t.Fatal("second mark of the same row should be a no-op")
	}
	st.markProcessed(1)
	st.markProcessed(3)
	if len(st.ProcessedRows) != 2 {
		t.Fatalf("processedRows = %v, want two unique rows", st.ProcessedRows)
	}
}

func TestMarkFailedRetiresRow(t *testing.T) {
	st := newState("c1")
	st.markFailed(7, "invalid phone")
	if len(st.FailedRows) != 1 || st.FailedRows[0].Row != 7 {
		t.Fatalf("failedRows = %v", st.FailedRows)
	}
	if !st.processed(7) {
		t.Fatal("failed row must also count as processed")
	}
	// Failing again must not duplicate the processed entry.
	st.markFailed(7, "still invalid")
	if len(st.ProcessedRows) != 1 {
		t.Fatalf("processedRows = %v, want single entry", st.ProcessedRows)
	}
}

func TestActive(t *testing.T) {
	var nilState *State
	if nilState.active() {
		t.Fatal("nil state must be inactive")
	}

	st := newState("c1")
	if st.active() {
		t.Fatal("unsized campaign must be inactive")
	}
	st.TotalContacts = 2
	if !st.active() {
		t.Fatal("sized campaign with pending rows must be active")
	}
	st.markProcessed(1)
	st.markProcessed(2)
	if st.active() {
		t.Fatal("fully processed campaign must be inactive")
	}
}
