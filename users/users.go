// Package users holds the identity the login endpoint returns. The client
// never stores credentials or hashes - it only keeps who is logged in.
package users

// User is the authenticated identity as the backend reports it.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}
