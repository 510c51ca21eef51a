package models

type RoomKind string

const (
	RoomPrivate RoomKind = "private"
	RoomNamed   RoomKind = "named"
)

// GeneralRoomID is the public room every user belongs to.
const (
	GeneralRoomID   = "0"
	GeneralRoomName = "General"
)

type Room struct {
	ID    string   `json:"id"`
	Kind  RoomKind `json:"kind"`
	Names []string `json:"names"`
}

type Message struct {
	From    UserID  `json:"from"`
	RoomID  string  `json:"roomId"`
	Message string  `json:"message"`
	Date    float64 `json:"date"`
}
