package simulator

var pageHTML = []byte(`<!DOCTYPE html>
<html lang="es">
<head>
<meta charset="utf-8">
<title>ServiYa — simulador</title>
<style>
  body { font-family: sans-serif; max-width: 640px; margin: 2rem auto; }
  #chat { border: 1px solid #ccc; height: 420px; overflow-y: auto; padding: 8px; }
  .user { text-align: right; color: #075e54; margin: 4px 0; white-space: pre-wrap; }
  .assistant { text-align: left; color: #111; margin: 4px 0; white-space: pre-wrap; }
  .meta { color: #888; font-size: 0.8em; }
  form { display: flex; gap: 8px; margin-top: 8px; }
  input[name=text] { flex: 1; }
</style>
</head>
<body>
<h3>ServiYa — simulador de WhatsApp</h3>
<label>Teléfono: <input id="phone" value="593999000111"></label>
<div id="chat"></div>
<form id="form">
  <input name="text" id="text" autocomplete="off" placeholder="Escribe un mensaje...">
  <button>Enviar</button>
</form>
<script>
  const chat = document.getElementById("chat");
  const proto = location.protocol === "https:" ? "wss://" : "ws://";
  const ws = new WebSocket(proto + location.host + location.pathname.replace(/\/$/, "") + "/ws");
  function add(role, text) {
    const div = document.createElement("div");
    div.className = role;
    div.textContent = text;
    chat.appendChild(div);
    chat.scrollTop = chat.scrollHeight;
  }
  ws.onmessage = (ev) => {
    const msg = JSON.parse(ev.data);
    if (msg.type === "message") {
      add("assistant", msg.text);
      if (msg.buttons) add("meta", "[" + msg.buttons.join(" | ") + "]");
    } else if (msg.type === "error") {
      add("meta", "error: " + msg.text);
    }
  };
  document.getElementById("form").onsubmit = (ev) => {
    ev.preventDefault();
    const text = document.getElementById("text").value.trim();
    if (!text) return;
    add("user", text);
    ws.send(JSON.stringify({type: "message", phone: document.getElementById("phone").value, text}));
    document.getElementById("text").value = "";
  };
</script>
</body>
</html>
`)
