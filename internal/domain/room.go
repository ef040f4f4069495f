package domain

// RoomUser is the read-only member view sent to clients.
type RoomUser struct {
	UserName    string `json:"userName"`
	Name        string `json:"name"`
	ImageURL    string `json:"imageUrl"`
	IsConnected bool   `json:"isConnected"`
}
