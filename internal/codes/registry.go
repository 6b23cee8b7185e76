package codes

import "net/http"

// Authentication and authorization failures.  Everything except an expired
// token collapses into notAuthenticated at the guard boundary; expiry is
// kept distinct so clients can attempt a refresh flow.  permissionDenied
// means authenticated but lacking a required permission and is never
// conflated with the 401 family.
var (
	InvalidToken     = Code{"invalidToken", http.StatusUnauthorized, "Invalid authentication token"}
	ExpiredToken     = Code{"expiredToken", http.StatusUnauthorized, "Authentication token has expired"}
	NotAuthenticated = Code{"notAuthenticated", http.StatusUnauthorized, "Not authenticated"}
	PermissionDenied = Code{"permissionDenied", http.StatusForbidden, "Permission denied"}
)

// General API codes.
var (
	OK              = Code{"ok", http.StatusOK, "OK"}
	NotFound        = Code{"notFound", http.StatusNotFound, "Item not found"}
	FieldsError     = Code{"fieldsError", http.StatusBadRequest, "Fix all fields errors"}
	TooManyRequests = Code{"tooManyRequests", http.StatusTooManyRequests, "Too many requests"}
	ServerError     = Code{"serverError", http.StatusInternalServerError, "Internal server error"}
)

// Account activation flow.
var (
	ActivationEmail = Code{"activationEmail", http.StatusCreated,
		"We sent an activation code to your email.\nCheck spam if you can't find it."}
	ActivationEmailResend = Code{"activationEmailResend", http.StatusBadRequest,
		"Your activation code is expired, we sent a new one to your email.\nCheck spam if you can't find it."}
	ActivationCodeIncorrect = Code{"activationCodeIncorrect", http.StatusBadRequest,
		"Your activation code is incorrect"}
	AlreadyActive = Code{"alreadyActive", http.StatusBadRequest,
		"You are already active.\nTry to sign in."}
)
