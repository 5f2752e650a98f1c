/*
Copyright (c) The AWDL-Go Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package syncstate implements the AWDL Availability Window arithmetic: the
// monotone "current AW" notion, the time remaining to the next AW boundary,
// and the sync-error accounting used to discipline the local schedule
// against a sync master's advertisements.
package syncstate

// TU is one AWDL time unit in microseconds (IEEE 802.11 convention).
const TU = 1024

// SyncErrorThresholdTU is the absolute sync-error magnitude, in TU, beyond
// which an update is counted as an error.
const SyncErrorThresholdTU = 3

// UsecToTU truncates a microsecond duration to whole time units.
func UsecToTU(usec uint64) uint64 {
	return usec / TU
}

// TUToUsec expands a time-unit duration to microseconds.
func TUToUsec(tu uint64) uint64 {
	return tu * TU
}

// State tracks the local notion of the AW schedule: which AW counter value
// was last known good, when that was observed, and the schedule shape
// (AW period in TU, and how many AWs make up one EAW).
type State struct {
	AWCounter    uint16
	LastUpdateUs uint64
	AWPeriodTU   uint64
	PresenceMode uint64
	MeasErr      uint64
	MeasTotal    uint64
}

// NewState returns a freshly initialized State as of now (microseconds,
// monotonic clock), with the default AW period of 16 TU and presence mode
// of 4 (EAW = 64 TU).
func NewState(nowUs uint64) *State {
	return &State{
		AWCounter:    0,
		LastUpdateUs: nowUs,
		AWPeriodTU:   16,
		PresenceMode: 4,
	}
}

func (s *State) eawPeriodTU() uint64 {
	return s.PresenceMode * s.AWPeriodTU
}

// NextAWTU returns the number of time units remaining until the next AW
// boundary, in the range (0, EAW].
func (s *State) NextAWTU(nowUs uint64) uint16 {
	eaw := s.eawPeriodTU()
	elapsed := UsecToTU(nowUs - s.LastUpdateUs)
	return uint16(eaw - (elapsed % eaw))
}

// NextAWUs returns the microseconds remaining until the next AW boundary,
// computed directly in microsecond precision rather than via NextAWTU.
func (s *State) NextAWUs(nowUs uint64) uint64 {
	eawUs := TUToUsec(s.eawPeriodTU())
	elapsed := nowUs - s.LastUpdateUs
	return eawUs - (elapsed % eawUs)
}

// CurrentAW returns the monotone AW counter value that corresponds to now,
// truncated to 16 bits as the wire format requires.
func (s *State) CurrentAW(nowUs uint64) uint16 {
	eaw := s.eawPeriodTU()
	elapsed := UsecToTU(nowUs - s.LastUpdateUs)
	current := uint64(s.AWCounter) + (elapsed%eaw)/s.AWPeriodTU + s.PresenceMode*(elapsed/eaw)
	return uint16(current)
}

// CurrentEAW returns the monotone EAW counter value that corresponds to now.
func (s *State) CurrentEAW(nowUs uint64) uint16 {
	return s.CurrentAW(nowUs) / uint16(s.PresenceMode)
}

// SyncErrorTU reports how far, in time units, the local schedule has
// drifted from a sync master's advertised time-to-next-AW and AW counter.
// A positive value means the local schedule is running behind the master;
// negative, ahead.
func (s *State) SyncErrorTU(nowUs uint64, masterTTNATU, masterCounter uint16) int64 {
	masterEAW := uint64(masterCounter) / s.PresenceMode
	localEAW := uint64(s.CurrentEAW(nowUs))
	eawTerm := (int64(masterEAW) - int64(localEAW)) * int64(s.eawPeriodTU())
	tuTerm := int64(masterTTNATU) - int64(s.NextAWTU(nowUs))
	return eawTerm - tuTerm
}

// UpdateLast disciplines the local schedule to a sync master's
// advertisement: masterTTNATU is the master's time-to-next-AW (TU) and
// masterCounter is the master's current AW counter. It does not itself
// account the update against MeasTotal/MeasErr -- callers that care about
// the sync-error threshold call SyncErrorTU first, as ObserveMaster does.
func (s *State) UpdateLast(nowUs uint64, masterTTNATU, masterCounter uint16) {
	eaw := s.eawPeriodTU()
	s.LastUpdateUs = nowUs - TUToUsec(eaw-uint64(masterTTNATU))
	// Mask to an EAW boundary (aw_counter / 4 * 4), matching the reference
	// implementation's literal 0xfffc mask regardless of presence mode.
	s.AWCounter = masterCounter & 0xfffc
}

// ObserveMaster is the combined operation performed on receipt of a sync
// params TLV from the current sync master: compute the sync error, account
// it against MeasTotal/MeasErr, and discipline the local schedule. It
// returns the computed sync error in TU.
func (s *State) ObserveMaster(nowUs uint64, masterTTNATU, masterCounter uint16) int64 {
	syncErr := s.SyncErrorTU(nowUs, masterTTNATU, masterCounter)
	s.MeasTotal++
	if syncErr > SyncErrorThresholdTU || syncErr < -SyncErrorThresholdTU {
		s.MeasErr++
	}
	s.UpdateLast(nowUs, masterTTNATU, masterCounter)
	return syncErr
}
