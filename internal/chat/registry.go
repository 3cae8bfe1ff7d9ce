package chat

import "sort"

// RoomRegistry maps room name to Room. Rooms are created lazily and never
// deleted. Not safe for concurrent use; the owning Service serialises access.
type RoomRegistry struct {
	rooms map[string]*Room
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[string]*Room)}
}

func (r *RoomRegistry) Has(name string) bool {
	_, ok := r.rooms[name]
	return ok
}

func (r *RoomRegistry) Get(name string) (*Room, bool) {
	room, ok := r.rooms[name]
	return room, ok
}

func (r *RoomRegistry) Create(name, password string) *Room {
	room := newRoom(name, password)
	r.rooms[name] = room
	return room
}

// drop undoes a Create whose save failed.
func (r *RoomRegistry) drop(name string) {
	delete(r.rooms, name)
}

func (r *RoomRegistry) Names() []string {
	out := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *RoomRegistry) Len() int { return len(r.rooms) }

// UserDirectory maps username to User.
type UserDirectory struct {
	users map[string]*User
}

func NewUserDirectory() *UserDirectory {
	return &UserDirectory{users: make(map[string]*User)}
}

func (d *UserDirectory) Get(username string) (*User, bool) {
	u, ok := d.users[username]
	return u, ok
}

func (d *UserDirectory) Add(username, credential string) (*User, error) {
	if _, ok := d.users[username]; ok {
		return nil, ErrUserExists
	}
	u := newUser(username, credential)
	d.users[username] = u
	return u, nil
}

func (d *UserDirectory) drop(username string) {
	delete(d.users, username)
}

func (d *UserDirectory) Names() []string {
	out := make([]string, 0, len(d.users))
	for name := range d.users {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (d *UserDirectory) Len() int { return len(d.users) }
