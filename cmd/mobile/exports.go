package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/kimhsiao/slotboard/internal/errors"
	"github.com/kimhsiao/slotboard/internal/models"
)

//export EnableSync
func EnableSync() C.int {
	a := current()
	if a == nil {
		return -1
	}
	if err := a.Engine.EnableSync(context.Background()); err != nil {
		setLastError(err.Error())
		return -1
	}
	return 0
}

//export DisableSync
func DisableSync() C.int {
	a := current()
	if a == nil {
		return -1
	}
	if err := a.Engine.DisableSync(context.Background()); err != nil {
		setLastError(err.Error())
		return -1
	}
	return 0
}

//export SyncNow
// SyncNow runs a cycle and returns the SyncResult as JSON. Skipped cycles are not errors.
func SyncNow() *C.char {
	a := current()
	if a == nil {
		return nil
	}
	result, err := a.Scheduler.SyncNow(context.Background())
	if err != nil && !apperrors.Is(err, apperrors.ErrSyncSkipped) && !apperrors.Is(err, apperrors.ErrSyncDisabled) {
		setLastError(err.Error())
	}
	return jsonResult(result)
}

//export OnVisible
// OnVisible tells the scheduler the app came to the foreground. Returns 1 when a sync started.
func OnVisible() C.int {
	a := current()
	if a == nil {
		return -1
	}
	if a.Scheduler.OnVisible() {
		return 1
	}
	return 0
}

//export Enqueue
// Enqueue queues an operation. kind is an OperationKind, payload its JSON payload and
// highPriority non-zero for the high lane. Returns the operation id.
func Enqueue(kind, payload *C.char, highPriority C.int) *C.char {
	a := current()
	if a == nil {
		return nil
	}

	priority := models.PriorityNormal
	if highPriority != 0 {
		priority = models.PriorityHigh
	}

	var body interface{}
	if raw := C.GoString(payload); raw != "" {
		body = json.RawMessage(raw)
	}

	id, err := a.Engine.Enqueue(context.Background(), models.OperationKind(C.GoString(kind)), body, priority)
	if err != nil {
		setLastError(err.Error())
		return nil
	}
	return C.CString(id)
}

//export SaveRecord
// SaveRecord stores a ScheduleRecord given as JSON and returns the stored record.
func SaveRecord(record *C.char) *C.char {
	a := current()
	if a == nil {
		return nil
	}

	var rec models.ScheduleRecord
	if err := json.Unmarshal([]byte(C.GoString(record)), &rec); err != nil {
		setLastError(fmt.Sprintf("Invalid record: %v", err))
		return nil
	}
	saved, err := a.Engine.AddRecord(context.Background(), rec)
	if err != nil {
		setLastError(err.Error())
		return nil
	}
	return jsonResult(saved)
}

//export DeleteRecord
func DeleteRecord(id *C.char) C.int {
	a := current()
	if a == nil {
		return -1
	}
	if err := a.Engine.DeleteRecord(context.Background(), C.GoString(id)); err != nil {
		setLastError(err.Error())
		return -1
	}
	return 0
}

//export ListRecords
func ListRecords() *C.char {
	a := current()
	if a == nil {
		return nil
	}
	records, err := a.Engine.Records(context.Background())
	if err != nil {
		setLastError(err.Error())
		return nil
	}
	if records == nil {
		records = []models.ScheduleRecord{}
	}
	return jsonResult(records)
}

//export SetCredential
func SetCredential(token *C.char) C.int {
	a := current()
	if a == nil {
		return -1
	}
	if err := a.Engine.SetCredential(context.Background(), C.GoString(token)); err != nil {
		setLastError(err.Error())
		return -1
	}
	return 0
}

//export SyncStatus
// SyncStatus returns the engine status as JSON.
func SyncStatus() *C.char {
	a := current()
	if a == nil {
		return nil
	}
	return jsonResult(a.Engine.Status())
}

//export NetworkTier
func NetworkTier() *C.char {
	a := current()
	if a == nil {
		return nil
	}
	return C.CString(a.Engine.NetworkTier().String())
}

//export LastSyncTime
// LastSyncTime returns the last successful sync as Unix milliseconds, or 0.
func LastSyncTime() C.longlong {
	a := current()
	if a == nil {
		return 0
	}
	t := a.Engine.LastSyncTime()
	if t.IsZero() {
		return 0
	}
	return C.longlong(t.UnixMilli())
}

//export PendingOperationCount
func PendingOperationCount() C.int {
	a := current()
	if a == nil {
		return -1
	}
	return C.int(a.Engine.PendingOperationCount())
}
