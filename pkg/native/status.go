package native

import "fmt"

// Status is a result code returned by every driver call (NRF_ERROR_* and
// BLE_ERROR_* families).
type Status uint32

const (
	Success              Status = 0
	ErrSVCHandlerMissing Status = 1
	ErrNotEnabled        Status = 2
	ErrInternal          Status = 3
	ErrNoMem             Status = 4
	ErrNotFound          Status = 5
	ErrNotSupported      Status = 6
	ErrInvalidParam      Status = 7
	ErrInvalidState      Status = 8
	ErrInvalidLength     Status = 9
	ErrInvalidFlags      Status = 10
	ErrInvalidData       Status = 11
	ErrDataSize          Status = 12
	ErrTimeout           Status = 13
	ErrNull              Status = 14
	ErrForbidden         Status = 15
	ErrInvalidAddr       Status = 16
	ErrBusy              Status = 17
	ErrConnCount         Status = 18
	ErrResources         Status = 19

	ErrInvalidConnHandle    Status = 0x3001
	ErrInvalidAttrHandle    Status = 0x3002
	ErrGattsInvalidAttrType Status = 0x3400
	ErrGattsSysAttrsMissing Status = 0x3401
)

type statusInfo struct {
	name string
	desc string
}

var statusTable = map[Status]statusInfo{
	Success:                 {"NRF_SUCCESS", "success"},
	ErrSVCHandlerMissing:    {"NRF_ERROR_SVC_HANDLER_MISSING", "SVC handler is missing"},
	ErrNotEnabled:           {"NRF_ERROR_SOFTDEVICE_NOT_ENABLED", "stack has not been enabled"},
	ErrInternal:             {"NRF_ERROR_INTERNAL", "internal error"},
	ErrNoMem:                {"NRF_ERROR_NO_MEM", "no memory for operation"},
	ErrNotFound:             {"NRF_ERROR_NOT_FOUND", "not found"},
	ErrNotSupported:         {"NRF_ERROR_NOT_SUPPORTED", "not supported"},
	ErrInvalidParam:         {"NRF_ERROR_INVALID_PARAM", "invalid parameter"},
	ErrInvalidState:         {"NRF_ERROR_INVALID_STATE", "invalid state, operation disallowed in this state"},
	ErrInvalidLength:        {"NRF_ERROR_INVALID_LENGTH", "invalid length"},
	ErrInvalidFlags:         {"NRF_ERROR_INVALID_FLAGS", "invalid flags"},
	ErrInvalidData:          {"NRF_ERROR_INVALID_DATA", "invalid data"},
	ErrDataSize:             {"NRF_ERROR_DATA_SIZE", "data size exceeds limit"},
	ErrTimeout:              {"NRF_ERROR_TIMEOUT", "operation timed out"},
	ErrNull:                 {"NRF_ERROR_NULL", "null pointer"},
	ErrForbidden:            {"NRF_ERROR_FORBIDDEN", "forbidden operation"},
	ErrInvalidAddr:          {"NRF_ERROR_INVALID_ADDR", "bad memory address"},
	ErrBusy:                 {"NRF_ERROR_BUSY", "busy"},
	ErrConnCount:            {"NRF_ERROR_CONN_COUNT", "maximum connection count exceeded"},
	ErrResources:            {"NRF_ERROR_RESOURCES", "not enough resources for operation"},
	ErrInvalidConnHandle:    {"BLE_ERROR_INVALID_CONN_HANDLE", "invalid connection handle"},
	ErrInvalidAttrHandle:    {"BLE_ERROR_INVALID_ATTR_HANDLE", "invalid attribute handle"},
	ErrGattsInvalidAttrType: {"BLE_ERROR_GATTS_INVALID_ATTR_TYPE", "invalid attribute type"},
	ErrGattsSysAttrsMissing: {"BLE_ERROR_GATTS_SYS_ATTR_MISSING", "system attributes missing"},
}

// String returns the symbolic name of the status code.
func (s Status) String() string {
	if info, ok := statusTable[s]; ok {
		return info.name
	}
	return fmt.Sprintf("UNKNOWN_STATUS(0x%04X)", uint32(s))
}

// Description returns a human-readable explanation of the status code.
func (s Status) Description() string {
	if info, ok := statusTable[s]; ok {
		return info.desc
	}
	return "unknown error code"
}

// Known reports whether the status code is part of the known table.
func (s Status) Known() bool {
	_, ok := statusTable[s]
	return ok
}
