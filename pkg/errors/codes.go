package errors

// Numeric error codes. 4xxx are caller/request errors, 5xxx are internal
// errors, 6xxx are downstream/dependency errors, 7xxx are startup/config
// errors.
const (
	RequestParameterInvalid = 4001
	RequestDataExists       = 4002
	AuthFailed              = 4003
	RequestDataNotExisted   = 4004
	PermissionDeny          = 4005
	IdempotencyKeyConflict  = 4006
	InvalidTargetSet        = 4007
	ApprovalRequired        = 4008
	ApprovalAlreadyDecided  = 4009
	InvalidOperation        = 4016
	InvalidArgument         = 4017

	InternalError    = 5000
	InvalidDataError = 5001
	DatabaseError    = 5002
	ServiceUnavailable = 5003
	AggregationConflict = 5004

	BrokerError     = 6001
	SSHConnectError = 6002
	BuildStepError  = 6003
	ArtifactStoreError = 6004
	WorkspaceViolation = 6005

	InitializeError = 7001
	LackOfConfig    = 7002
)
