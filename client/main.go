package main

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Message IDs, mirrored from the server protocol.
const (
	MsgTypeJoinRoom   = 101
	MsgTypeLeaveRoom  = 102
	MsgTypeCreateRoom = 103
	MsgTypeAction     = 201

	MsgTypeJoined      = 300
	MsgTypeSnapshot    = 301
	MsgTypeDelta       = 302
	MsgTypeLogAppended = 303
	MsgTypePresence    = 304
	MsgTypeRejection   = 305
	MsgTypeRoomClosed  = 306
)

var msgNames = map[uint16]string{
	MsgTypeJoined:      "joined",
	MsgTypeSnapshot:    "snapshot",
	MsgTypeDelta:       "delta",
	MsgTypeLogAppended: "log",
	MsgTypePresence:    "presence",
	MsgTypeRejection:   "REJECTED",
	MsgTypeRoomClosed:  "room closed",
}

const usage = `commands:
  create <name>                 create a room and take the first seat
  join <room> <name>            join a room
  rejoin <room>                 reclaim your seat with the last token
  team purple|teal|none         change team
  role knower|seeker            change role on your team
  start | end                   start or end a round (host)
  clue <count> <word...>        give a clue
  voice <count>                 record a clue given out loud
  pass                          end the current turn
  move <name> <role>            move a player, e.g. move Bob teal_knower (host)
  kick <name>                   remove a player (host)
  leave                         give up your seat`

// send formats and sends a message to the WebSocket server.
func send(c *websocket.Conn, msgID uint16, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	packet := make([]byte, 4+len(data))
	binary.BigEndian.PutUint16(packet[0:2], msgID)
	binary.BigEndian.PutUint16(packet[2:4], uint16(len(data)))
	copy(packet[4:], data)

	return c.WriteMessage(websocket.BinaryMessage, packet)
}

type action map[string]any

// parse turns a command line into a message. ok is false for unknown input.
func parse(line, token string) (msgID uint16, body any, ok bool) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return 0, nil, false
	}
	arg := func(i int) string {
		if i < len(f) {
			return f[i]
		}
		return ""
	}
	count := func(i int) int {
		n, _ := strconv.Atoi(arg(i))
		return n
	}

	switch f[0] {
	case "create":
		return MsgTypeCreateRoom, action{"name": arg(1)}, true
	case "join":
		return MsgTypeJoinRoom, action{"room_id": arg(1), "name": strings.Join(f[min(2, len(f)):], " ")}, true
	case "rejoin":
		return MsgTypeJoinRoom, action{"room_id": arg(1), "token": token}, true
	case "leave":
		return MsgTypeLeaveRoom, action{}, true
	case "team":
		return MsgTypeAction, action{"kind": "change_team", "team": arg(1)}, true
	case "role":
		return MsgTypeAction, action{"kind": "change_role", "role": arg(1)}, true
	case "start":
		return MsgTypeAction, action{"kind": "start_round"}, true
	case "end":
		return MsgTypeAction, action{"kind": "end_round"}, true
	case "clue":
		return MsgTypeAction, action{"kind": "give_clue", "count": count(1), "text": strings.Join(f[min(2, len(f)):], " ")}, true
	case "voice":
		return MsgTypeAction, action{"kind": "give_clue", "count": count(1), "external": true}, true
	case "pass":
		return MsgTypeAction, action{"kind": "end_turn"}, true
	case "move":
		return MsgTypeAction, action{"kind": "force_move", "target": arg(1), "role": arg(2)}, true
	case "kick":
		return MsgTypeAction, action{"kind": "kick", "target": arg(1)}, true
	}
	return 0, nil, false
}

func main() {
	addr := flag.String("addr", "localhost:8080", "server address")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})
	tokens := make(chan string, 1)

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			if len(message) < 4 {
				log.Printf("Received invalid packet of size %d", len(message))
				continue
			}
			msgID := binary.BigEndian.Uint16(message[0:2])
			data := message[4:]

			if msgID == MsgTypeJoined {
				var joined struct {
					RoomID string `json:"room_id"`
					Token  string `json:"token"`
				}
				if json.Unmarshal(data, &joined) == nil {
					select {
					case <-tokens:
					default:
					}
					tokens <- joined.Token
					log.Printf("seated in room %s", joined.RoomID)
				}
			}
			name, ok := msgNames[msgID]
			if !ok {
				name = fmt.Sprintf("msg %d", msgID)
			}
			log.Printf("<- %s: %s", name, string(data))
		}
	}()

	fmt.Println(usage)

	lines := make(chan string)
	go func() {
		reader := bufio.NewScanner(os.Stdin)
		for reader.Scan() {
			lines <- reader.Text()
		}
		close(lines)
	}()

	// Write loop
	var token string
	for {
		select {
		case <-done:
			return
		case t := <-tokens:
			token = t
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			msgID, body, ok := parse(line, token)
			if !ok {
				fmt.Println(usage)
				continue
			}
			if err := send(c, msgID, body); err != nil {
				log.Println("Write error:", err)
				return
			}
		}
	}
}
