package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "ClassLinker Chat API",
        "description": "Realtime subject chat for teachers and enrolled students",
        "version": "0.1.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Chat", "description": "Subject chat rooms, history and roster"},
        {"name": "Chat Transcripts", "description": "Asynchronous transcript exports"}
    ],
    "paths": {
        "/chat/ws": {
            "get": {
                "tags": ["Chat"],
                "summary": "Open the subject chat websocket",
                "description": "Exchange {\"event\",\"data\"} frames: joinSubject, sendMessage, leaveSubject, ping. The server emits joinedSubject, leftSubject, newMessage, pong and error.",
                "parameters": [
                    {"name": "token", "in": "query", "type": "string", "description": "Access token for browser clients"}
                ],
                "responses": {
                    "101": {"description": "Switching Protocols"},
                    "401": {"description": "Not authenticated", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "No chat role", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/subjects/{subjectId}/chat/history": {
            "get": {
                "tags": ["Chat"],
                "summary": "Subject chat history in commit order",
                "parameters": [
                    {"name": "subjectId", "in": "path", "required": true, "type": "string"},
                    {"name": "after", "in": "query", "type": "integer", "description": "Return messages with chatId greater than this"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ChatMessageList"}},
                    "403": {"description": "Access denied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/subjects/{subjectId}/chat/participants": {
            "get": {
                "tags": ["Chat"],
                "summary": "Subject chat roster",
                "parameters": [
                    {"name": "subjectId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Access denied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/subjects/{subjectId}/chat/online": {
            "get": {
                "tags": ["Chat"],
                "summary": "Users connected to a subject room",
                "parameters": [
                    {"name": "subjectId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Access denied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/subjects/{subjectId}/chat/transcripts": {
            "post": {
                "tags": ["Chat Transcripts"],
                "summary": "Export a subject chat transcript",
                "parameters": [
                    {"name": "subjectId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TranscriptRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Access denied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/chat/transcripts/{id}": {
            "get": {
                "tags": ["Chat Transcripts"],
                "summary": "Transcript export status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/chat/transcripts/download/{token}": {
            "get": {
                "tags": ["Chat Transcripts"],
                "summary": "Download a finished transcript",
                "security": [],
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Transcript file"},
                    "403": {"description": "Invalid or expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "ChatMessage": {
            "type": "object",
            "properties": {
                "chatId": {"type": "integer"},
                "subjectId": {"type": "string"},
                "authorId": {"type": "string"},
                "authorName": {"type": "string"},
                "authorRole": {"type": "string", "enum": ["teacher", "student"]},
                "body": {"type": "string"},
                "createdAt": {"type": "string", "format": "date-time"}
            }
        },
        "ChatMessageList": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/ChatMessage"}},
                "meta": {"type": "object"}
            }
        },
        "TranscriptRequest": {
            "type": "object",
            "required": ["format"],
            "properties": {
                "format": {"type": "string", "enum": ["csv", "pdf"]}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
