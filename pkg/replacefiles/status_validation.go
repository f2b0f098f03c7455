package replacefiles

import "fmt"

// insertAllowedStatuses is the allow-list enforced on the generic insert path.
var insertAllowedStatuses = map[Status]bool{
	StatusPublish: true,
	StatusInherit: true,
	StatusDraft:   true,
	StatusPending: true,
	StatusPrivate: true,
}

// NormalizeInsertStatus enforces the insert allow-list on fields.
// Anything outside it, including an empty status, drops to inherit.
func NormalizeInsertStatus(fields FieldSet) FieldSet {
	if !insertAllowedStatuses[Status(fields[FieldStatus])] {
		fields[FieldStatus] = string(StatusInherit)
	}
	return fields
}

// IsDraftLike reports whether a replacement in this status has not been
// submitted for approval yet.
func IsDraftLike(status Status) bool {
	return status == StatusDraft || status == StatusReplacePending
}

// PendingListStatuses are the child statuses shown under Pending Changes.
var PendingListStatuses = []Status{StatusDraft, StatusReplacePending, StatusPending}

// CanSubmit checks if a replacement in status can enter the approval queue.
func CanSubmit(status Status) error {
	switch status {
	case StatusDraft, StatusReplacePending:
		return nil
	case StatusPending:
		return fmt.Errorf("%w: replacement is already awaiting approval (status: %s)", ErrInvalidTransition, status)
	default:
		return fmt.Errorf("%w: replacement cannot be submitted (status: %s)", ErrInvalidTransition, status)
	}
}

// CanDecide checks if a replacement in status can be approved or rejected.
func CanDecide(status Status) error {
	if status == StatusPending {
		return nil
	}
	return fmt.Errorf("%w: replacement is not awaiting approval (status: %s)", ErrInvalidTransition, status)
}
