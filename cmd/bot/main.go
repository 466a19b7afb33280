// Command bot connects one or more random-walking hotspots to a running server.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voxelstream.ai/internal/protocol"
)

func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name  = flag.String("name", "bot", "hotspot name prefix")
		count = flag.Int("n", 1, "number of hotspots to connect")
		step  = flag.Float64("step", 8, "maximum distance moved per STATUS")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		close(stop)
	}()

	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runBot(*url, fmt.Sprintf("%s-%d", *name, i), *step, int64(i), stop, logger)
		}(i)
	}
	wg.Wait()
}

func runBot(url, name string, step float64, seed int64, stop <-chan struct{}, logger *log.Logger) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		logger.Printf("%s dial: %v", name, err)
		return
	}
	defer conn.Close()
	go func() {
		<-stop
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	r := rand.New(rand.NewSource(seed + time.Now().UnixNano()))
	pos := [3]float64{r.Float64()*64 - 32, 0, r.Float64()*64 - 32}
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Name:            name,
		Pos:             pos,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Printf("%s send HELLO: %v", name, err)
		return
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("%s WELCOME hotspot_id=%s chunk_size=%d radius=%.2f", name, w.HotspotID, w.ChunkSize, w.Radius)

		case protocol.TypeStatus:
			var st protocol.StatusMsg
			if err := json.Unmarshal(msg, &st); err != nil {
				continue
			}
			logger.Printf("%s STATUS tick=%d chunk=%v known=%d loaded=%d active=%d", name, st.Tick, st.Chunk, st.Known, st.Loaded, st.Active)
			pos[0] += (r.Float64()*2 - 1) * step
			pos[2] += (r.Float64()*2 - 1) * step
			_ = conn.WriteJSON(protocol.MoveMsg{Type: protocol.TypeMove, ProtocolVersion: protocol.Version, Pos: pos})

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Printf("%s ERROR code=%s message=%s", name, e.Code, e.Message)
		}
	}
}
