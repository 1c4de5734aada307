package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// MeetingHub はミーティングごとのWebSocket接続を管理します
// スレッドセーフな実装により、複数のgoroutineから同時にアクセス可能です
// メディア本体はピア間のメッシュで流れるため、ここは在席・ミュートの
// 通知専用です（シグナリング封筒はRESTのポーリング経路を使います）
type MeetingHub struct {
	meetings map[string]*meetingRoom // "classId/meetingId" をキーとしたマップ
	mu       sync.RWMutex            // 読み書きのロック
}

// meetingRoom は1つのミーティングのWebSocket接続を管理します
type meetingRoom struct {
	key     string             // "classId/meetingId"
	clients map[string]*Client // ユーザーIDをキーとしたクライアントのマップ
	mu      sync.RWMutex       // 読み書きのロック
}

// Client は1つのWebSocket接続を表します
type Client struct {
	classId   string
	meetingId string
	userId    string          // ユーザーID
	userName  string          // 表示名（通知用）
	conn      *websocket.Conn // WebSocket接続
	room      *meetingRoom    // 所属するミーティング
}

// WebSocketMessage はWebSocketで送受信するメッセージの構造
// すべてのメッセージはこの形式でやり取りされます
type WebSocketMessage struct {
	Type    string      `json:"type"`    // メッセージタイプ (例: "user_joined", "user_left", "mute_state")
	Payload interface{} `json:"payload"` // メッセージのペイロード（型は動的）
}

// PresencePayload は参加・退出通知のペイロード
type PresencePayload struct {
	UserId   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// MuteStatePayload はミュート状態変更時のペイロード
type MuteStatePayload struct {
	UserId  string `json:"userId"`  // 対象ユーザーのID
	IsMuted bool   `json:"isMuted"` // ミュート状態（true: ミュート中、false: ミュート解除）
}

// WebSocketHandler はWebSocket接続を処理するハンドラー
type WebSocketHandler struct {
	svc      *service.MeetingService // ビジネスロジックを担当するサービス
	hub      *MeetingHub             // WebSocket接続を管理するハブ
	upgrader websocket.Upgrader      // HTTPからWebSocketへのアップグレーダー
}

// NewWebSocketHandler は新しいWebSocketHandlerを作成します
func NewWebSocketHandler(s *service.MeetingService) *WebSocketHandler {
	return &WebSocketHandler{
		svc: s,
		hub: &MeetingHub{meetings: make(map[string]*meetingRoom)},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 本番環境では適切なOriginチェックを実装してください
				return true
			},
		},
	}
}

// HandleWebSocket はWebSocket接続を処理します
// 接続後、以下の処理を行います:
// 1. HTTPからWebSocketへのアップグレード
// 2. クライアントの登録と参加通知
// 3. メッセージ受信ループの開始
// 4. 切断時の自動退出処理とクリーンアップ
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	classId := normalizeID(chi.URLParam(r, "classId"))
	meetingId := normalizeID(chi.URLParam(r, "meetingId"))
	userId := normalizeID(r.URL.Query().Get("userId"))

	if err := validateClassId(classId); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validateMeetingId(meetingId); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validateUserId(userId); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var userName string
	if _, participants, ok, err := h.svc.Get(r.Context(), classId, meetingId); err == nil && ok {
		for _, p := range participants {
			if p.UserId == userId {
				userName = p.UserName
				break
			}
		}
	}

	// WebSocket接続にアップグレード
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	// クライアントを登録
	client := h.hub.registerClient(classId, meetingId, userId, userName, conn)
	defer func() {
		// WebSocket切断時にユーザーをミーティングから退出させる
		if err := h.svc.Leave(context.Background(), classId, meetingId, userId); err != nil {
			log.Printf("Failed to auto-leave on disconnect: classId=%s, meetingId=%s, userId=%s, error=%v", classId, meetingId, userId, err)
		} else {
			log.Printf("User auto-left on disconnect: classId=%s, meetingId=%s, userId=%s", classId, meetingId, userId)

			// 他の参加者に退出を通知
			h.hub.broadcastToRoom(client.room, WebSocketMessage{
				Type: "user_left",
				Payload: PresencePayload{
					UserId: userId,
				},
			}, userId)
		}

		h.hub.unregisterClient(client)
		conn.Close()
	}()

	log.Printf("WebSocket connected: classId=%s, meetingId=%s, userId=%s", classId, meetingId, userId)

	// メッセージ受信ループ
	for {
		var msg WebSocketMessage
		err := conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		// メッセージタイプに応じて処理
		switch msg.Type {
		case "leave":
			h.handleLeave(client, msg.Payload)
		case "mute_state":
			h.handleMuteState(client, msg.Payload)
		case "ping":
			// ping/pongで接続を維持
			if err := conn.WriteJSON(WebSocketMessage{Type: "pong"}); err != nil {
				log.Printf("Failed to send pong: %v", err)
				break
			}
		default:
			log.Printf("Unknown message type: %s", msg.Type)
		}
	}
}

// handleLeave はユーザーの退出を処理します
// 処理の流れ:
// 1. ペイロードをPresencePayload型にパース
// 2. リクエストユーザーの本人確認
// 3. サービス層で退出処理を実行
// 4. 同じミーティングの他の参加者に退出を通知
func (h *WebSocketHandler) handleLeave(client *Client, payload interface{}) {
	var leavePayload PresencePayload
	if !remarshal(payload, &leavePayload) {
		return
	}

	// userIdの検証
	if leavePayload.UserId != client.userId {
		log.Printf("UserId mismatch: expected %s, got %s", client.userId, leavePayload.UserId)
		return
	}

	// サービス層でユーザーを退出させる
	if err := h.svc.Leave(context.Background(), client.classId, client.meetingId, leavePayload.UserId); err != nil {
		log.Printf("Failed to leave meeting: %v", err)
		// エラーをクライアントに送信
		client.conn.WriteJSON(WebSocketMessage{
			Type: "error",
			Payload: map[string]string{
				"message": "Failed to leave meeting",
			},
		})
		return
	}

	// 同じミーティングの他の参加者に退出を通知
	h.hub.broadcastToRoom(client.room, WebSocketMessage{
		Type: "user_left",
		Payload: PresencePayload{
			UserId:   leavePayload.UserId,
			UserName: client.userName,
		},
	}, client.userId)

	log.Printf("User left via WebSocket: classId=%s, meetingId=%s, userId=%s", client.classId, client.meetingId, leavePayload.UserId)
}

// handleMuteState は参加者のミュート状態変更を処理します
// ミュートは再ネゴシエーションを伴わないため、レジストリ更新と通知のみです
func (h *WebSocketHandler) handleMuteState(client *Client, payload interface{}) {
	var muteStatePayload MuteStatePayload
	if !remarshal(payload, &muteStatePayload) {
		return
	}

	// userIdの検証
	if muteStatePayload.UserId != client.userId {
		log.Printf("UserId mismatch: expected %s, got %s", client.userId, muteStatePayload.UserId)
		return
	}

	if err := h.svc.SetMuteState(context.Background(), client.classId, client.meetingId, muteStatePayload.UserId, muteStatePayload.IsMuted); err != nil {
		log.Printf("Failed to update mute state: %v", err)
		client.conn.WriteJSON(WebSocketMessage{
			Type: "error",
			Payload: map[string]string{
				"message": "Failed to update mute state",
			},
		})
		return
	}

	// 他の参加者に通知
	h.hub.broadcastToRoom(client.room, WebSocketMessage{
		Type: "user_mute_state_changed",
		Payload: MuteStatePayload{
			UserId:  muteStatePayload.UserId,
			IsMuted: muteStatePayload.IsMuted,
		},
	}, client.userId)

	log.Printf("User mute state changed via WebSocket: classId=%s, meetingId=%s, userId=%s, isMuted=%t", client.classId, client.meetingId, muteStatePayload.UserId, muteStatePayload.IsMuted)
}

// remarshal はinterface{}のペイロードを具象型に詰め直します
func remarshal(payload interface{}, dst any) bool {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal payload: %v", err)
		return false
	}
	if err := json.Unmarshal(payloadBytes, dst); err != nil {
		log.Printf("Failed to unmarshal payload: %v", err)
		return false
	}
	return true
}

// registerClient はクライアントを登録します
// 新しいユーザーがミーティングに接続した際に呼ばれます
// ミーティングのハブが存在しない場合は新規作成し、既存の参加者に参加通知を送信します
func (hub *MeetingHub) registerClient(classId, meetingId, userId, userName string, conn *websocket.Conn) *Client {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	key := classId + "/" + meetingId
	room, exists := hub.meetings[key]
	if !exists {
		room = &meetingRoom{
			key:     key,
			clients: make(map[string]*Client),
		}
		hub.meetings[key] = room
	}

	client := &Client{
		classId:   classId,
		meetingId: meetingId,
		userId:    userId,
		userName:  userName,
		conn:      conn,
		room:      room,
	}

	room.mu.Lock()
	room.clients[userId] = client
	room.mu.Unlock()

	// 既存の参加者に新しいユーザーの参加を通知
	hub.broadcastToRoom(room, WebSocketMessage{
		Type: "user_joined",
		Payload: PresencePayload{
			UserId:   userId,
			UserName: userName,
		},
	}, userId)

	log.Printf("User joined and broadcasted: classId=%s, meetingId=%s, userId=%s", classId, meetingId, userId)

	return client
}

// unregisterClient はクライアントの登録を解除します
// WebSocket接続が切断された際に呼ばれます
// ミーティングが空になった場合はハブからミーティング自体を削除します
func (hub *MeetingHub) unregisterClient(client *Client) {
	room := client.room
	room.mu.Lock()
	delete(room.clients, client.userId)
	isEmpty := len(room.clients) == 0
	room.mu.Unlock()

	// ミーティングが空になったら削除
	if isEmpty {
		hub.mu.Lock()
		delete(hub.meetings, room.key)
		hub.mu.Unlock()
	}
}

// broadcastToRoom はミーティング内の全クライアントにメッセージを送信します（送信者を除く）
// 参加・退出・ミュート状態変更などのイベントを他の参加者に通知する際に使用します
func (hub *MeetingHub) broadcastToRoom(room *meetingRoom, msg WebSocketMessage, excludeUserId string) {
	room.mu.RLock()
	defer room.mu.RUnlock()

	for userId, client := range room.clients {
		if userId == excludeUserId {
			continue
		}
		if err := client.conn.WriteJSON(msg); err != nil {
			log.Printf("Failed to send message to userId=%s: %v", userId, err)
		}
	}
}
