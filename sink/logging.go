//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package sink

import (
	"context"

	"github.com/kianax/engine/log"
)

// LoggingSink publishes transitions to the engine log. Useful as a default
// sink for tools without a persistence backend.
type LoggingSink struct{}

// NewLoggingSink creates a sink that logs every transition.
func NewLoggingSink() *LoggingSink { return &LoggingSink{} }

// CreateExecution implements Sink.
func (*LoggingSink) CreateExecution(_ context.Context, rec ExecutionRecord) error {
	log.Infof("execution created: workflow=%s routine=%s trigger=%s",
		rec.WorkflowID, rec.RoutineID, rec.TriggerType)
	return nil
}

// StoreNodeResult implements Sink.
func (*LoggingSink) StoreNodeResult(_ context.Context, rec NodeResultRecord) error {
	if rec.Error != "" {
		log.Warnf("node result: workflow=%s node=%s status=%s error=%s",
			rec.WorkflowID, rec.NodeID, rec.Status, rec.Error)
		return nil
	}
	log.Debugf("node result: workflow=%s node=%s status=%s",
		rec.WorkflowID, rec.NodeID, rec.Status)
	return nil
}

// UpdateStatus implements Sink.
func (*LoggingSink) UpdateStatus(_ context.Context, update StatusUpdate) error {
	log.Infof("execution status: workflow=%s status=%s", update.WorkflowID, update.Status)
	return nil
}
