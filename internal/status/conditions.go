// Package status fills in the conditions of a VMStatus and guards
// operations that need a domain in a particular lifecycle state.
package status

import (
	"time"

	"github.com/jbweber/vmtools/api/v1alpha1"
)

// Condition types reported on a VMStatus.
const (
	// ConditionReady is True when the domain is Running.
	ConditionReady = "Ready"

	// ConditionLiveStats is True when a monitor sample was collected.
	ConditionLiveStats = "LiveStats"

	// ConditionGuestAddress is True when the guest reported an IPv4 address.
	ConditionGuestAddress = "GuestAddress"
)

// SetCondition adds or updates a condition in the status.
// If a condition with the same type already exists, it updates it.
// The LastTransitionTime is only updated if the status changes.
func SetCondition(st *v1alpha1.VMStatus, condType string, status v1alpha1.ConditionStatus, reason, message string) {
	now := v1alpha1.NewTime(time.Now())

	for i := range st.Conditions {
		if st.Conditions[i].Type == condType {
			existing := &st.Conditions[i]
			if existing.Status != status {
				existing.LastTransitionTime = now
			}
			existing.Status = status
			existing.Reason = reason
			existing.Message = message
			return
		}
	}

	st.Conditions = append(st.Conditions, v1alpha1.Condition{
		Type:               condType,
		Status:             status,
		LastTransitionTime: now,
		Reason:             reason,
		Message:            message,
	})
}

// GetCondition returns a condition by type, or nil if not found.
func GetCondition(st *v1alpha1.VMStatus, condType string) *v1alpha1.Condition {
	for i := range st.Conditions {
		if st.Conditions[i].Type == condType {
			return &st.Conditions[i]
		}
	}
	return nil
}

// IsConditionTrue returns true if the condition exists and has status True.
func IsConditionTrue(st *v1alpha1.VMStatus, condType string) bool {
	cond := GetCondition(st, condType)
	return cond != nil && cond.Status == v1alpha1.ConditionTrue
}

// IsConditionFalse returns true if the condition exists and has status False.
func IsConditionFalse(st *v1alpha1.VMStatus, condType string) bool {
	cond := GetCondition(st, condType)
	return cond != nil && cond.Status == v1alpha1.ConditionFalse
}

// RemoveCondition removes a condition by type.
func RemoveCondition(st *v1alpha1.VMStatus, condType string) {
	filtered := make([]v1alpha1.Condition, 0, len(st.Conditions))
	for i := range st.Conditions {
		if st.Conditions[i].Type != condType {
			filtered = append(filtered, st.Conditions[i])
		}
	}
	st.Conditions = filtered
}

// MarkReady derives the Ready condition from the coarse state.
func MarkReady(st *v1alpha1.VMStatus) {
	if st.VM.IsRunning() {
		SetCondition(st, ConditionReady, v1alpha1.ConditionTrue, "Running", "domain is running")
		return
	}
	SetCondition(st, ConditionReady, v1alpha1.ConditionFalse, string(st.VM.State), "domain is not running")
}

// MarkLiveStats records a collected sample.
func MarkLiveStats(st *v1alpha1.VMStatus, sample *v1alpha1.StatsSample) {
	st.Sample = sample
	SetCondition(st, ConditionLiveStats, v1alpha1.ConditionTrue, "SampleCollected", "monitor sample collected")
}

// MarkLiveStatsFailed records that live data was wanted but unavailable.
// The status becomes Partial; the coarse record is still valid.
func MarkLiveStatsFailed(st *v1alpha1.VMStatus, reason string, err error) {
	st.Sample = nil
	st.Partial = true
	SetCondition(st, ConditionLiveStats, v1alpha1.ConditionFalse, reason, err.Error())
}

// MarkGuestAddress records the guest's address, or its absence.
func MarkGuestAddress(st *v1alpha1.VMStatus, ip string, err error) {
	switch {
	case err != nil:
		SetCondition(st, ConditionGuestAddress, v1alpha1.ConditionUnknown, "QueryFailed", err.Error())
	case ip == "":
		SetCondition(st, ConditionGuestAddress, v1alpha1.ConditionFalse, "NoAddress", "guest has not reported an IPv4 address")
	default:
		st.VM.IPAddress = ip
		SetCondition(st, ConditionGuestAddress, v1alpha1.ConditionTrue, "AddressReported", ip)
	}
}
